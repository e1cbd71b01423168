// Package access issues request-budgeted API keys and meters calls against
// them. Consume is the one operation in the system that needs true mutual
// exclusion: each key record carries its own mutex.
package access

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/gyaneshwarpardhi/quakerisk/internal/apperr"
	"github.com/gyaneshwarpardhi/quakerisk/internal/ident"
	"github.com/gyaneshwarpardhi/quakerisk/internal/metrics"
)

const keyPrefix = "qk_"

// APIKey is a subscription credential.
type APIKey struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	Owner        string    `json:"owner"`
	Organization string    `json:"organization"`
	ContactEmail string    `json:"contact_email"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	RequestLimit int       `json:"request_limit"`
	Remaining    int       `json:"remaining"`
	Active       bool      `json:"active"`
}

// Status is the read-only view returned by Validate.
type Status struct {
	Valid     bool      `json:"valid"`
	Remaining int       `json:"remaining"`
	Expiry    time.Time `json:"expiry"`
	Reason    string    `json:"reason,omitempty"`
}

// IssueRequest carries the issuance parameters.
type IssueRequest struct {
	Owner        string `json:"owner" validate:"required,max=128"`
	Organization string `json:"organization" validate:"required,max=256"`
	ContactEmail string `json:"contact_email" validate:"required,email"`
	DurationDays int    `json:"duration_days" validate:"gt=0,lte=3650"`
	RequestLimit int    `json:"request_limit" validate:"gt=0"`
}

type record struct {
	mu  sync.Mutex
	key APIKey
}

// Controller owns every subscription record.
type Controller struct {
	mu    sync.RWMutex
	byKey map[string]*record
	byID  map[string]string // id -> key

	rnd      io.Reader
	ids      *ident.Generator
	now      func() time.Time
	validate *validator.Validate
}

// Option customises a Controller.
type Option func(*Controller)

// WithRandom sets the source of key material and identifiers.
func WithRandom(r io.Reader) Option {
	return func(c *Controller) {
		c.rnd = r
		c.ids = ident.New("sub_", r)
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates an empty Controller.
func New(opts ...Option) *Controller {
	c := &Controller{
		byKey:    make(map[string]*record),
		byID:     make(map[string]string),
		rnd:      rand.Reader,
		ids:      ident.New("sub_", nil),
		now:      time.Now,
		validate: validator.New(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Issue creates an active key valid for durationDays with requestLimit calls.
func (c *Controller) Issue(owner, orgName, contactEmail string, durationDays, requestLimit int) (APIKey, error) {
	req := IssueRequest{
		Owner:        owner,
		Organization: orgName,
		ContactEmail: contactEmail,
		DurationDays: durationDays,
		RequestLimit: requestLimit,
	}
	if err := c.validate.Struct(req); err != nil {
		return APIKey{}, fmt.Errorf("issue key: %v: %w", err, apperr.ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	secret, err := c.newSecret()
	if err != nil {
		return APIKey{}, fmt.Errorf("issue key: %w", err)
	}
	now := c.now()
	k := APIKey{
		ID:           c.ids.Next(),
		Key:          secret,
		Owner:        owner,
		Organization: orgName,
		ContactEmail: contactEmail,
		StartTime:    now,
		EndTime:      now.AddDate(0, 0, durationDays),
		RequestLimit: requestLimit,
		Remaining:    requestLimit,
		Active:       true,
	}
	c.byKey[secret] = &record{key: k}
	c.byID[k.ID] = secret
	return k, nil
}

func (c *Controller) newSecret() (string, error) {
	buf := make([]byte, 24)
	for attempt := 0; attempt < 3; attempt++ {
		if _, err := io.ReadFull(c.rnd, buf); err != nil {
			return "", fmt.Errorf("read key material: %w", err)
		}
		s := keyPrefix + hex.EncodeToString(buf)
		if _, taken := c.byKey[s]; !taken {
			return s, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique key")
}

// Validate reports whether key is usable right now. It never mutates state.
// Unknown keys fail with apperr.ErrInvalidKey.
func (c *Controller) Validate(key string) (Status, error) {
	rec := c.lookup(key)
	if rec == nil {
		return Status{}, fmt.Errorf("validate: %w", apperr.ErrInvalidKey)
	}
	rec.mu.Lock()
	k := rec.key
	rec.mu.Unlock()

	st := Status{Remaining: k.Remaining, Expiry: k.EndTime}
	switch {
	case !k.Active:
		st.Reason = apperr.Code(apperr.ErrInvalidKey)
	case !c.now().Before(k.EndTime):
		st.Reason = apperr.Code(apperr.ErrExpired)
	case k.Remaining <= 0:
		st.Reason = apperr.Code(apperr.ErrQuotaExhausted)
	default:
		st.Valid = true
	}
	return st, nil
}

// Consume spends one request from key's budget and returns what is left.
func (c *Controller) Consume(key string) (int, error) {
	rec := c.lookup(key)
	if rec == nil {
		metrics.QuotaDecisions.WithLabelValues("invalid").Inc()
		return 0, fmt.Errorf("consume: %w", apperr.ErrInvalidKey)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	k := &rec.key
	switch {
	case !k.Active:
		metrics.QuotaDecisions.WithLabelValues("invalid").Inc()
		return 0, fmt.Errorf("consume %s: revoked: %w", k.ID, apperr.ErrInvalidKey)
	case !c.now().Before(k.EndTime):
		metrics.QuotaDecisions.WithLabelValues("expired").Inc()
		return 0, fmt.Errorf("consume %s: ended %s: %w", k.ID, k.EndTime.Format(time.RFC3339), apperr.ErrExpired)
	case k.Remaining <= 0:
		metrics.QuotaDecisions.WithLabelValues("exhausted").Inc()
		return 0, fmt.Errorf("consume %s: %w", k.ID, apperr.ErrQuotaExhausted)
	}
	k.Remaining--
	metrics.QuotaDecisions.WithLabelValues("ok").Inc()
	return k.Remaining, nil
}

// Renew extends key by days (from now when already expired) and adds
// extraRequests to its budget.
func (c *Controller) Renew(key string, days, extraRequests int) (APIKey, error) {
	if days < 0 || extraRequests < 0 || days+extraRequests == 0 {
		return APIKey{}, fmt.Errorf("renew: days=%d requests=%d: %w", days, extraRequests, apperr.ErrInvalidArgument)
	}
	rec := c.lookup(key)
	if rec == nil {
		return APIKey{}, fmt.Errorf("renew: %w", apperr.ErrInvalidKey)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	k := &rec.key
	if !k.Active {
		return APIKey{}, fmt.Errorf("renew %s: revoked: %w", k.ID, apperr.ErrInvalidKey)
	}
	now := c.now()
	if !now.Before(k.EndTime) {
		k.EndTime = now.AddDate(0, 0, days)
	} else {
		k.EndTime = k.EndTime.AddDate(0, 0, days)
	}
	k.Remaining += extraRequests
	k.RequestLimit += extraRequests
	return *k, nil
}

// Revoke deactivates key permanently.
func (c *Controller) Revoke(key string) error {
	rec := c.lookup(key)
	if rec == nil {
		return fmt.Errorf("revoke: %w", apperr.ErrInvalidKey)
	}
	rec.mu.Lock()
	rec.key.Active = false
	rec.mu.Unlock()
	return nil
}

// ByID returns the subscription with the given id.
func (c *Controller) ByID(id string) (APIKey, error) {
	c.mu.RLock()
	secret, ok := c.byID[id]
	c.mu.RUnlock()
	if !ok {
		return APIKey{}, fmt.Errorf("subscription %s: %w", id, apperr.ErrNotFound)
	}
	rec := c.lookup(secret)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.key, nil
}

// ListByOwner returns the owner's keys, oldest first.
func (c *Controller) ListByOwner(owner string) []APIKey {
	c.mu.RLock()
	recs := make([]*record, 0)
	for _, rec := range c.byKey {
		recs = append(recs, rec)
	}
	c.mu.RUnlock()

	var out []APIKey
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.key.Owner == owner {
			out = append(out, rec.key)
		}
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

func (c *Controller) lookup(key string) *record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byKey[key]
}
