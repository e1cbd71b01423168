// Package engine drives the ingestion cycle and serves the request-time
// entry points for risk scoring and market correlation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/quakerisk/internal/alert"
	"github.com/gyaneshwarpardhi/quakerisk/internal/apperr"
	"github.com/gyaneshwarpardhi/quakerisk/internal/config"
	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
	"github.com/gyaneshwarpardhi/quakerisk/internal/feed"
	"github.com/gyaneshwarpardhi/quakerisk/internal/ingest"
	"github.com/gyaneshwarpardhi/quakerisk/internal/ledger"
	"github.com/gyaneshwarpardhi/quakerisk/internal/market"
	"github.com/gyaneshwarpardhi/quakerisk/internal/metrics"
	"github.com/gyaneshwarpardhi/quakerisk/internal/notify"
	"github.com/gyaneshwarpardhi/quakerisk/internal/risk"
	"github.com/gyaneshwarpardhi/quakerisk/internal/store"
)

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Store      *store.Store
	Feed       feed.Source
	Ingestor   *ingest.Ingestor
	Classifier *alert.Classifier
	Scorer     *risk.Scorer
	Rates      market.RateSource
	Ledger     ledger.Ledger // optional
	Notifiers  *notify.Registry
	Logger     *slog.Logger
}

// CycleResult summarises one ingestion pass.
type CycleResult struct {
	Trigger    string        `json:"trigger"` // scheduled | manual
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	DurationMs int64         `json:"duration_ms"`
	Report     ingest.Report `json:"report"`
	EventIDs   []string      `json:"event_ids"`
	Alerts     int           `json:"alerts"`
	Error      string        `json:"error,omitempty"`
}

// Correlation is the response of a correlation request.
type Correlation struct {
	Pair    string          `json:"pair"`
	Days    int             `json:"days"`
	Source  string          `json:"source"`
	From    time.Time       `json:"from"`
	To      time.Time       `json:"to"`
	Events  int             `json:"events"`
	Samples []market.Sample `json:"samples"`
}

// Pipeline runs ingestion cycles. At most one scheduled cycle executes at a
// time; manual batches share the same ingestion lock so dedup stays exact.
type Pipeline struct {
	deps Deps
	conf config.EngineConf
	now  func() time.Time
	log  *slog.Logger

	running  atomic.Bool
	ingestMu sync.Mutex
	last     atomic.Pointer[CycleResult]
	maxDays  int

	tasks *workerPool[task]
}

type task struct {
	kind string // notify | ledger
	name string
	run  func(context.Context) error
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithMaxCorrelationDays caps the days accepted by Correlate.
func WithMaxCorrelationDays(n int) Option {
	return func(p *Pipeline) { p.maxDays = n }
}

// New creates a Pipeline and starts its background task pool.
func New(ctx context.Context, deps Deps, conf config.EngineConf, opts ...Option) (*Pipeline, error) {
	if deps.Store == nil || deps.Feed == nil || deps.Ingestor == nil || deps.Classifier == nil || deps.Scorer == nil || deps.Rates == nil {
		return nil, fmt.Errorf("engine: store, feed, ingestor, classifier, scorer and rates are required")
	}
	if deps.Notifiers == nil {
		deps.Notifiers = notify.NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if conf.Workers <= 0 {
		conf.Workers = 1
	}
	if conf.QueueDepth <= 0 {
		conf.QueueDepth = 100
	}
	p := &Pipeline{
		deps:    deps,
		conf:    conf,
		now:     time.Now,
		log:     deps.Logger.With("component", "engine"),
		maxDays: 365,
	}
	for _, o := range opts {
		o(p)
	}
	p.tasks = newWorkerPool[task](ctx, "background", conf.Workers, conf.QueueDepth, conf.TaskTimeout,
		func(ctx context.Context, t task) error {
			err := t.run(ctx)
			if err != nil {
				p.log.Warn("background task failed", "kind", t.kind, "task", t.name, "err", err)
			}
			return err
		},
	)
	return p, nil
}

// RunCycle fetches candidates from the feed and processes them. It returns
// apperr.ErrCycleInProgress without doing anything if another cycle is
// already executing.
func (p *Pipeline) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		metrics.IngestCycles.WithLabelValues("skipped").Inc()
		return nil, apperr.ErrCycleInProgress
	}
	defer p.running.Store(false)

	start := p.now()
	fetchCtx := ctx
	if p.conf.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.conf.FetchTimeout)
		defer cancel()
	}
	records, err := p.deps.Feed.Fetch(fetchCtx)
	if err != nil {
		res := &CycleResult{Trigger: "scheduled", StartedAt: start, FinishedAt: p.now(), Error: err.Error()}
		res.DurationMs = res.FinishedAt.Sub(start).Milliseconds()
		p.last.Store(res)
		metrics.IngestCycles.WithLabelValues("error").Inc()
		p.log.Error("feed fetch failed", "source", p.deps.Feed.Name(), "err", err)
		return res, fmt.Errorf("fetch from %s: %w", p.deps.Feed.Name(), err)
	}

	res := p.process(ctx, "scheduled", start, records)
	p.last.Store(res)
	metrics.IngestCycles.WithLabelValues("ok").Inc()
	metrics.IngestCycleDuration.Observe(float64(res.DurationMs))
	p.log.Info("ingestion cycle complete",
		"received", res.Report.Received,
		"admitted", res.Report.Admitted,
		"duplicates", res.Report.Duplicates,
		"malformed", res.Report.Malformed,
		"alerts", res.Alerts,
		"duration_ms", res.DurationMs,
	)
	return res, nil
}

// IngestBatch processes a manually submitted batch through the same path as
// a scheduled cycle.
func (p *Pipeline) IngestBatch(ctx context.Context, records []event.RawRecord) *CycleResult {
	return p.process(ctx, "manual", p.now(), records)
}

func (p *Pipeline) process(ctx context.Context, trigger string, start time.Time, records []event.RawRecord) *CycleResult {
	p.ingestMu.Lock()
	defer p.ingestMu.Unlock()

	rep, admitted := p.deps.Ingestor.Ingest(ctx, records)
	res := &CycleResult{Trigger: trigger, StartedAt: start, Report: rep, EventIDs: make([]string, 0, len(admitted))}

	for _, ev := range admitted {
		res.EventIDs = append(res.EventIDs, ev.ID)
		if a, ok := p.deps.Classifier.Classify(ev); ok {
			if err := p.deps.Store.AddAlert(*a); err != nil {
				p.log.Error("failed to persist alert", "event_id", ev.ID, "err", err)
			} else {
				res.Alerts++
				metrics.AlertsEmitted.WithLabelValues(string(a.Severity)).Inc()
				p.broadcast(*a)
			}
		}
		if p.deps.Ledger != nil && ev.Magnitude >= p.conf.VerifyThreshold {
			p.anchor(ev)
		}
	}

	if n := p.deps.Store.Prune(); n > 0 {
		p.log.Debug("pruned dedup window", "entries", n)
	}
	metrics.StoredEvents.Set(float64(p.deps.Store.Stats().Events))
	res.FinishedAt = p.now()
	res.DurationMs = res.FinishedAt.Sub(start).Milliseconds()
	return res
}

// broadcast hands the alert to every notifier without waiting.
func (p *Pipeline) broadcast(a event.Alert) {
	for _, n := range p.deps.Notifiers.All() {
		ok := p.tasks.Submit(task{kind: "notify", name: n.Type(), run: func(ctx context.Context) error {
			if err := n.Notify(ctx, a); err != nil {
				metrics.NotificationsSent.WithLabelValues(n.Type(), "error").Inc()
				return fmt.Errorf("notify %s of alert %s: %w", n.Type(), a.ID, err)
			}
			metrics.NotificationsSent.WithLabelValues(n.Type(), "ok").Inc()
			return nil
		}})
		if !ok {
			p.log.Warn("notification dropped, task queue full", "notifier", n.Type(), "alert_id", a.ID)
		}
	}
}

// anchor publishes ev to the ledger and marks it verified once the ledger
// confirms it. Failures are logged and otherwise ignored.
func (p *Pipeline) anchor(ev event.Event) {
	ok := p.tasks.Submit(task{kind: "ledger", name: ev.ID, run: func(ctx context.Context) error {
		if _, err := p.deps.Ledger.Publish(ctx, ev); err != nil {
			metrics.LedgerOps.WithLabelValues("publish", "error").Inc()
			return fmt.Errorf("publish event %s: %w", ev.ID, err)
		}
		metrics.LedgerOps.WithLabelValues("publish", "ok").Inc()

		verified, err := p.deps.Ledger.Verify(ctx, ev.ID)
		if err != nil {
			metrics.LedgerOps.WithLabelValues("verify", "error").Inc()
			return fmt.Errorf("verify event %s: %w", ev.ID, err)
		}
		if !verified {
			metrics.LedgerOps.WithLabelValues("verify", "mismatch").Inc()
			return fmt.Errorf("verify event %s: digest mismatch", ev.ID)
		}
		metrics.LedgerOps.WithLabelValues("verify", "ok").Inc()
		return p.deps.Store.MarkVerified(ev.ID)
	}})
	if !ok {
		p.log.Warn("ledger publication dropped, task queue full", "event_id", ev.ID)
	}
}

// ScoreFor returns the cached or freshly computed risk assessment.
func (p *Pipeline) ScoreFor(ctx context.Context, id string) (*risk.Assessment, error) {
	a, err := p.deps.Scorer.ScoreFor(ctx, id)
	metrics.RiskCacheEntries.Set(float64(p.deps.Scorer.Cached()))
	return a, err
}

// Correlate overlays stored significant events on the last days of the
// pair's exchange-rate series, today included.
func (p *Pipeline) Correlate(ctx context.Context, pairText string, days int) (*Correlation, error) {
	pair, err := market.ParsePair(pairText)
	if err != nil {
		return nil, err
	}
	if days <= 0 || days > p.maxDays {
		return nil, fmt.Errorf("days %d outside 1-%d: %w", days, p.maxDays, apperr.ErrInvalidArgument)
	}
	to := market.Day(p.now())
	from := to.AddDate(0, 0, -(days - 1))

	series, err := p.deps.Rates.Series(ctx, pair, from, to)
	if err != nil {
		return nil, fmt.Errorf("rates for %s: %w", pair, err)
	}

	// Events come back newest first; correlation applies them in time order.
	stored := p.deps.Store.Events(store.Filter{MinMagnitude: market.MinMagnitude, Since: from})
	events := make([]event.Event, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		events = append(events, stored[i])
	}

	return &Correlation{
		Pair:    pair.String(),
		Days:    days,
		Source:  p.deps.Rates.Name(),
		From:    from,
		To:      to,
		Events:  len(events),
		Samples: market.Correlate(series, events, pair),
	}, nil
}

// LastCycle returns the most recent cycle result, or nil before the first.
func (p *Pipeline) LastCycle() *CycleResult {
	return p.last.Load()
}

// Running reports whether a scheduled cycle is executing.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// QueueUtilization returns background queue used / capacity (0-1).
func (p *Pipeline) QueueUtilization() float64 {
	if p.tasks.QueueCap() == 0 {
		return 0
	}
	return float64(p.tasks.QueueLen()) / float64(p.tasks.QueueCap())
}

// Ready reports whether the last scheduled cycle succeeded and the task
// queue has headroom.
func (p *Pipeline) Ready() (bool, string) {
	last := p.LastCycle()
	switch {
	case last == nil:
		return false, "no ingestion cycle completed yet"
	case last.Error != "":
		return false, "last ingestion cycle failed: " + last.Error
	case p.QueueUtilization() > 0.8:
		return false, "background queue overloaded"
	}
	return true, ""
}

// Shutdown drains queued notifications and ledger work.
func (p *Pipeline) Shutdown() {
	p.tasks.Drain()
}

// IsSkipped reports whether err means a cycle was skipped.
func IsSkipped(err error) bool {
	return errors.Is(err, apperr.ErrCycleInProgress)
}
