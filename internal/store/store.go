// Package store is the in-process Event Store. It exclusively owns the
// Event and Alert lifecycle; every mutation goes through its methods.
package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/quakerisk/internal/apperr"
	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
)

// DefaultWindow is how far back duplicate detection looks.
const DefaultWindow = 24 * time.Hour

// Filter narrows an Events query. Zero values disable a criterion.
type Filter struct {
	MinMagnitude float64
	MaxMagnitude float64
	Place        string // case-insensitive substring
	Since        time.Time
	Until        time.Time
	VerifiedOnly bool
	TsunamiOnly  bool
	Limit        int
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Events       int `json:"events"`
	Verified     int `json:"verified"`
	Alerts       int `json:"alerts"`
	ActiveAlerts int `json:"active_alerts"`
	Windowed     int `json:"windowed"`
}

// Store holds canonical events and alerts. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	events map[string]*event.Event
	alerts map[string]*event.Alert
	order  []string // alert ids in creation order
	window *Window
	now    func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithWindow sets the dedup window span.
func WithWindow(span time.Duration) Option {
	return func(s *Store) { s.window = NewWindow(span) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		events: make(map[string]*event.Event),
		alerts: make(map[string]*event.Alert),
		window: NewWindow(DefaultWindow),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddEvent persists a new event. Ids are never reused.
func (s *Store) AddEvent(ev event.Event) error {
	if ev.ID == "" {
		return fmt.Errorf("event id is required: %w", apperr.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[ev.ID]; exists {
		return fmt.Errorf("event %s already stored: %w", ev.ID, apperr.ErrInvalidArgument)
	}
	cp := ev
	s.events[ev.ID] = &cp
	if !ev.Time.Before(s.cutoff()) {
		s.window.Insert(ev.Place, ev.Time, ev.ID)
	}
	return nil
}

// Event returns a copy of the event with the given id.
func (s *Store) Event(id string) (event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return event.Event{}, fmt.Errorf("event %s: %w", id, apperr.ErrNotFound)
	}
	return *ev, nil
}

// Near returns stored events for place whose time is strictly within tol of
// at, restricted to the current window. Expired window entries are pruned.
func (s *Store) Near(place string, at time.Time, tol time.Duration) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window.Prune(s.cutoff())
	ids := s.window.Near(place, at, tol)
	out := make([]event.Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := s.events[id]; ok {
			out = append(out, *ev)
		}
	}
	return out
}

// Prune drops window entries older than the dedup window and reports how
// many were removed. Events themselves are never deleted.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Prune(s.cutoff())
}

// Events returns events matching f, newest first.
func (s *Store) Events(f Filter) []event.Event {
	s.mu.RLock()
	out := make([]event.Event, 0, len(s.events))
	place := strings.ToLower(f.Place)
	for _, ev := range s.events {
		if f.MinMagnitude > 0 && ev.Magnitude < f.MinMagnitude {
			continue
		}
		if f.MaxMagnitude > 0 && ev.Magnitude > f.MaxMagnitude {
			continue
		}
		if place != "" && !strings.Contains(strings.ToLower(ev.Place), place) {
			continue
		}
		if !f.Since.IsZero() && ev.Time.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && ev.Time.After(f.Until) {
			continue
		}
		if f.VerifiedOnly && !ev.Verified {
			continue
		}
		if f.TsunamiOnly && !ev.Tsunami {
			continue
		}
		out = append(out, *ev)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].ID < out[j].ID
		}
		return out[i].Time.After(out[j].Time)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// MarkVerified flags an event as verified.
func (s *Store) MarkVerified(id string) error {
	return s.update(id, func(ev *event.Event) { ev.Verified = true })
}

// SetTsunami updates the tsunami flag of an event.
func (s *Store) SetTsunami(id string, tsunami bool) error {
	return s.update(id, func(ev *event.Event) { ev.Tsunami = tsunami })
}

func (s *Store) update(id string, fn func(*event.Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, apperr.ErrNotFound)
	}
	fn(ev)
	return nil
}

// AddAlert persists an alert. The referenced event must exist.
func (s *Store) AddAlert(a event.Alert) error {
	if a.ID == "" {
		return fmt.Errorf("alert id is required: %w", apperr.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[a.EventID]; !ok {
		return fmt.Errorf("alert %s references event %s: %w", a.ID, a.EventID, apperr.ErrNotFound)
	}
	if _, exists := s.alerts[a.ID]; exists {
		return fmt.Errorf("alert %s already stored: %w", a.ID, apperr.ErrInvalidArgument)
	}
	cp := a
	s.alerts[a.ID] = &cp
	s.order = append(s.order, a.ID)
	return nil
}

// Alerts returns alerts newest first.
func (s *Store) Alerts(activeOnly bool, limit int) []event.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]event.Alert, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		a := s.alerts[s.order[i]]
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, *a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// DeactivateAlert marks an alert inactive.
func (s *Store) DeactivateAlert(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return fmt.Errorf("alert %s: %w", id, apperr.ErrNotFound)
	}
	a.Active = false
	return nil
}

// Stats summarises the store.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Events: len(s.events), Alerts: len(s.alerts), Windowed: s.window.Len()}
	for _, ev := range s.events {
		if ev.Verified {
			st.Verified++
		}
	}
	for _, a := range s.alerts {
		if a.Active {
			st.ActiveAlerts++
		}
	}
	return st
}

func (s *Store) cutoff() time.Time {
	return s.now().Add(-s.window.Span())
}
