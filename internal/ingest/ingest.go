// Package ingest normalizes candidate records and admits the ones that are
// not duplicates of events already in the store.
package ingest

import (
	"context"
	"log/slog"

	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
	"github.com/gyaneshwarpardhi/quakerisk/internal/metrics"
	"github.com/gyaneshwarpardhi/quakerisk/internal/store"
)

// Outcome is the per-record result of ingestion.
type Outcome string

const (
	OutcomeAdmitted  Outcome = "admitted"
	OutcomeDuplicate Outcome = "duplicate_ignored"
	OutcomeMalformed Outcome = "malformed"
)

// Report counts outcomes for a batch.
type Report struct {
	Received   int `json:"received"`
	Admitted   int `json:"admitted"`
	Duplicates int `json:"duplicates"`
	Malformed  int `json:"malformed"`
}

// IDSource yields fresh event identifiers.
type IDSource interface {
	Next() string
}

// Ingestor runs the dedup filter against a Store.
type Ingestor struct {
	store *store.Store
	ids   IDSource
	log   *slog.Logger
}

// New creates an Ingestor.
func New(s *store.Store, ids IDSource, log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{store: s, ids: ids, log: log.With("component", "ingest")}
}

// Ingest normalizes records, drops duplicates and persists the rest. The
// newly admitted events are returned in input order. Malformed records are
// logged and skipped.
func (in *Ingestor) Ingest(ctx context.Context, records []event.RawRecord) (Report, []event.Event) {
	rep := Report{Received: len(records)}
	admitted := make([]event.Event, 0, len(records))
	for i, r := range records {
		if ctx.Err() != nil {
			in.log.Warn("ingestion interrupted", "processed", i, "err", ctx.Err())
			break
		}
		ev, outcome := in.admit(r)
		metrics.RecordsIngested.WithLabelValues(string(outcome)).Inc()
		switch outcome {
		case OutcomeAdmitted:
			rep.Admitted++
			admitted = append(admitted, ev)
		case OutcomeDuplicate:
			rep.Duplicates++
		case OutcomeMalformed:
			rep.Malformed++
		}
	}
	return rep, admitted
}

func (in *Ingestor) admit(r event.RawRecord) (event.Event, Outcome) {
	ev, err := event.Normalize(r, in.ids.Next())
	if err != nil {
		in.log.Warn("skipping malformed record", "record_id", r.ID, "err", err)
		return event.Event{}, OutcomeMalformed
	}
	for _, existing := range in.store.Near(ev.Place, ev.Time, TimeTolerance) {
		if IsDuplicate(existing, ev) {
			in.log.Debug("duplicate ignored", "place", ev.Place, "magnitude", ev.Magnitude, "existing_id", existing.ID)
			return existing, OutcomeDuplicate
		}
	}
	if err := in.store.AddEvent(ev); err != nil {
		in.log.Error("failed to persist event", "event_id", ev.ID, "err", err)
		return event.Event{}, OutcomeMalformed
	}
	return ev, OutcomeAdmitted
}
