// Package ledger anchors significant events in an append-only record and
// verifies them later. The default implementation is in-process; the
// interface is what the pipeline depends on.
package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/gyaneshwarpardhi/quakerisk/internal/apperr"
	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
)

// Ledger publishes events and verifies earlier publications.
type Ledger interface {
	Publish(ctx context.Context, ev event.Event) (Receipt, error)
	Verify(ctx context.Context, eventID string) (bool, error)
}

// Receipt identifies one publication.
type Receipt struct {
	EventID     string    `json:"event_id"`
	TxHash      string    `json:"tx_hash"`
	Block       uint64    `json:"block"`
	PublishedAt time.Time `json:"published_at"`
}

// canonical is the hashed projection of an event. Verified is excluded so a
// later verification does not invalidate the anchor.
type canonical struct {
	ID        string  `json:"id"`
	Place     string  `json:"place"`
	Magnitude float64 `json:"magnitude"`
	Depth     float64 `json:"depth"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	TimeMs    int64   `json:"time_ms"`
	Source    string  `json:"source"`
}

// Digest returns the 0x-prefixed Keccak-256 hash of the event's canonical form.
func Digest(ev event.Event) (string, error) {
	b, err := json.Marshal(canonical{
		ID:        ev.ID,
		Place:     ev.Place,
		Magnitude: ev.Magnitude,
		Depth:     ev.Depth,
		Latitude:  ev.Latitude,
		Longitude: ev.Longitude,
		TimeMs:    ev.Time.UnixMilli(),
		Source:    ev.Source,
	})
	if err != nil {
		return "", fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}

type entry struct {
	receipt Receipt
	event   event.Event
}

// Memory is an in-process Ledger.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	height  uint64
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

// Publish anchors ev. Publishing the same id again returns the first receipt.
func (m *Memory) Publish(ctx context.Context, ev event.Event) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if ev.ID == "" {
		return Receipt{}, fmt.Errorf("publish: empty event id: %w", apperr.ErrInvalidArgument)
	}
	tx, err := Digest(ev)
	if err != nil {
		return Receipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[ev.ID]; ok {
		return e.receipt, nil
	}
	m.height++
	r := Receipt{EventID: ev.ID, TxHash: tx, Block: m.height, PublishedAt: m.now()}
	m.entries[ev.ID] = entry{receipt: r, event: ev}
	return r, nil
}

// Verify reports whether the anchored record still hashes to its receipt.
func (m *Memory) Verify(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	e, ok := m.entries[eventID]
	m.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("ledger entry %s: %w", eventID, apperr.ErrNotFound)
	}
	tx, err := Digest(e.event)
	if err != nil {
		return false, err
	}
	return tx == e.receipt.TxHash, nil
}

// Receipt returns the receipt for eventID, if published.
func (m *Memory) Receipt(eventID string) (Receipt, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[eventID]
	return e.receipt, ok
}

// Height is the number of publications so far.
func (m *Memory) Height() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.height
}
