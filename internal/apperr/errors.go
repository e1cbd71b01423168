// Package apperr holds the error taxonomy shared by every pipeline stage.
package apperr

import "errors"

var (
	ErrMalformedInput  = errors.New("malformed input")
	ErrNotFound        = errors.New("not found")
	ErrQuotaExhausted  = errors.New("quota exhausted")
	ErrExpired         = errors.New("subscription expired")
	ErrInvalidKey      = errors.New("invalid api key")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrCycleInProgress = errors.New("ingestion cycle already running")
)

// Codes binds each sentinel to the stable code reported to callers.
var Codes = map[error]string{
	ErrMalformedInput:  "MALFORMED_INPUT",
	ErrNotFound:        "NOT_FOUND",
	ErrQuotaExhausted:  "QUOTA_EXHAUSTED",
	ErrExpired:         "EXPIRED",
	ErrInvalidKey:      "INVALID_KEY",
	ErrInvalidArgument: "INVALID_ARGUMENT",
	ErrCycleInProgress: "CYCLE_IN_PROGRESS",
}

// Code returns the code of the first sentinel err wraps, or "INTERNAL".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for sentinel, code := range Codes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "INTERNAL"
}
