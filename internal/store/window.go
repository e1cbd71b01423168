package store

import (
	"time"

	"github.com/tidwall/btree"
)

type windowEntry struct {
	at time.Time
	id string
}

func entryLess(a, b windowEntry) bool {
	if a.at.Equal(b.at) {
		return a.id < b.id
	}
	return a.at.Before(b.at)
}

// Window indexes recent events by place, ordered by occurrence time, so the
// dedup policy only ever looks at a bounded slice of the store.
// Window is not safe for concurrent use; Store guards it.
type Window struct {
	span    time.Duration
	byPlace map[string]*btree.BTreeG[windowEntry]
	size    int
}

// NewWindow returns an index retaining events whose time is within span of
// the pruning cutoff.
func NewWindow(span time.Duration) *Window {
	return &Window{span: span, byPlace: make(map[string]*btree.BTreeG[windowEntry])}
}

// Span returns the retention span.
func (w *Window) Span() time.Duration { return w.span }

// Insert indexes an event id under place at time at.
func (w *Window) Insert(place string, at time.Time, id string) {
	tr, ok := w.byPlace[place]
	if !ok {
		tr = btree.NewBTreeGOptions(entryLess, btree.Options{NoLocks: true})
		w.byPlace[place] = tr
	}
	if _, replaced := tr.Set(windowEntry{at: at, id: id}); !replaced {
		w.size++
	}
}

// Near returns ids indexed under place whose time is strictly within tol of at.
func (w *Window) Near(place string, at time.Time, tol time.Duration) []string {
	tr, ok := w.byPlace[place]
	if !ok {
		return nil
	}
	lo, hi := at.Add(-tol), at.Add(tol)
	var ids []string
	tr.Ascend(windowEntry{at: lo}, func(e windowEntry) bool {
		if !e.at.Before(hi) {
			return false
		}
		if e.at.After(lo) {
			ids = append(ids, e.id)
		}
		return true
	})
	return ids
}

// Prune drops every entry older than cutoff and returns how many were removed.
func (w *Window) Prune(cutoff time.Time) int {
	removed := 0
	for place, tr := range w.byPlace {
		for {
			min, ok := tr.Min()
			if !ok || !min.at.Before(cutoff) {
				break
			}
			tr.PopMin()
			removed++
		}
		if tr.Len() == 0 {
			delete(w.byPlace, place)
		}
	}
	w.size -= removed
	return removed
}

// Len returns the number of indexed events.
func (w *Window) Len() int { return w.size }
