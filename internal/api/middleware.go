package api

import (
	"bufio"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/quakerisk/internal/metrics"
)

// APIKeyHeader carries the subscription key on protected routes.
const APIKeyHeader = "X-API-Key"

const bearerPrefix = "Bearer "

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is needed by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	if r.status == http.StatusOK {
		r.status = http.StatusSwitchingProtocols
	}
	return hj.Hijack()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Observe(float64(dur.Milliseconds()))
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", dur.Milliseconds(),
		)
	})
}

// requireKey rate-limits and meters a protected handler. A request that is
// rate-limited spends no quota.
func (h *Handler) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + APIKeyHeader + " header", Code: "INVALID_KEY"})
			return
		}
		if !h.limits.Allow(key) {
			metrics.QuotaDecisions.WithLabelValues("rate_limited").Inc()
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "request rate exceeded", Code: "RATE_LIMITED"})
			return
		}
		remaining, err := h.access.Consume(key)
		if err != nil {
			writeAppError(w, err)
			return
		}
		w.Header().Set("X-Quota-Remaining", strconv.Itoa(remaining))
		next(w, r)
	}
}

// requireOperator admits requests bearing the operator token in the
// Authorization header. Subscription keys are never accepted here.
func (h *Handler) requireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.admin == "" {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "key management is disabled", Code: "FORBIDDEN"})
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.admin)) != 1 {
			slog.Warn("operator request rejected", "method", r.Method, "path", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "operator token required", Code: "UNAUTHORIZED"})
			return
		}
		next(w, r)
	}
}
