package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"bare", ErrNotFound, "NOT_FOUND"},
		{"wrapped", fmt.Errorf("key abc: %w", ErrQuotaExhausted), "QUOTA_EXHAUSTED"},
		{"double wrapped", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrExpired)), "EXPIRED"},
		{"unknown", errors.New("boom"), "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Code(tc.err); got != tc.want {
				t.Errorf("Code(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
