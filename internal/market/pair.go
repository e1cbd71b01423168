package market

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/quakerisk/internal/apperr"
)

// Pair is a currency pair quoted as Base/Quote.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (p Pair) String() string { return p.Base + "/" + p.Quote }

// ParsePair accepts "USD/SGD", "usd-sgd" or "USDSGD".
func ParsePair(s string) (Pair, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	var base, quote string
	switch {
	case strings.ContainsAny(s, "/-_"):
		parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '-' || r == '_' })
		if len(parts) != 2 {
			return Pair{}, fmt.Errorf("pair %q: %w", s, apperr.ErrInvalidArgument)
		}
		base, quote = parts[0], parts[1]
	case len(s) == 6:
		base, quote = s[:3], s[3:]
	default:
		return Pair{}, fmt.Errorf("pair %q: %w", s, apperr.ErrInvalidArgument)
	}
	if !isCode(base) || !isCode(quote) || base == quote {
		return Pair{}, fmt.Errorf("pair %q: %w", s, apperr.ErrInvalidArgument)
	}
	return Pair{Base: base, Quote: quote}, nil
}

func isCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
