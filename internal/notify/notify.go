// Package notify fans alerts out to subscribers. Delivery is fire-and-forget:
// notifiers report errors for logging but nothing waits for acknowledgement.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
)

// Notifier delivers a single alert to one kind of subscriber.
type Notifier interface {
	// Type returns the key the notifier is registered under.
	Type() string
	Notify(ctx context.Context, a event.Alert) error
}

// Registry maps notifier types to notifiers.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{notifiers: make(map[string]Notifier)}
}

// Register adds a notifier. Panics on duplicate type to surface misconfiguration early.
func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.notifiers[n.Type()]; exists {
		panic(fmt.Sprintf("notify registry: duplicate type %q", n.Type()))
	}
	r.notifiers[n.Type()] = n
}

// Types returns all registered types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.notifiers))
	for k := range r.notifiers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// All returns every registered notifier ordered by type.
func (r *Registry) All() []Notifier {
	types := r.Types()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Notifier, 0, len(types))
	for _, t := range types {
		out = append(out, r.notifiers[t])
	}
	return out
}
