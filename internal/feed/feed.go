// Package feed supplies candidate seismic records to the ingestion cycle.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
)

// Source delivers a batch of raw candidate records per call.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]event.RawRecord, error)
}

// Static serves a fixed, replaceable batch. Used for -once runs and tests.
type Static struct {
	mu      sync.Mutex
	name    string
	records []event.RawRecord
	err     error
}

func NewStatic(name string, records ...event.RawRecord) *Static {
	return &Static{name: name, records: records}
}

func (s *Static) Name() string { return s.name }

// Set replaces the batch returned by subsequent fetches.
func (s *Static) Set(records ...event.RawRecord) {
	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
}

// Fail makes subsequent fetches return err; nil clears it.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Static) Fetch(ctx context.Context) ([]event.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]event.RawRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

// LoadFile reads a GeoJSON FeatureCollection from disk into a Static source.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed file %s: %w", path, err)
	}
	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse feed file %s: %w", path, err)
	}
	return NewStatic("file", fc.Features...), nil
}
