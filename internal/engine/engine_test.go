package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/quakerisk/internal/alert"
	"github.com/gyaneshwarpardhi/quakerisk/internal/apperr"
	"github.com/gyaneshwarpardhi/quakerisk/internal/config"
	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
	"github.com/gyaneshwarpardhi/quakerisk/internal/feed"
	"github.com/gyaneshwarpardhi/quakerisk/internal/ident"
	"github.com/gyaneshwarpardhi/quakerisk/internal/ingest"
	"github.com/gyaneshwarpardhi/quakerisk/internal/ledger"
	"github.com/gyaneshwarpardhi/quakerisk/internal/market"
	"github.com/gyaneshwarpardhi/quakerisk/internal/notify"
	"github.com/gyaneshwarpardhi/quakerisk/internal/risk"
	"github.com/gyaneshwarpardhi/quakerisk/internal/store"
)

var testNow = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

func raw(id, place string, mag float64, at time.Time, lat, lon, depth float64) event.RawRecord {
	m := mag
	return event.RawRecord{
		ID:         id,
		Properties: event.RawProperties{Mag: &m, Place: place, Time: float64(at.UnixMilli())},
		Geometry:   &event.RawGeometry{Coordinates: []float64{lon, lat, depth}},
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []event.Alert
	err    error
}

func (r *recordingNotifier) Type() string { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, a event.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recordingNotifier) received() []event.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Alert(nil), r.alerts...)
}

type fixture struct {
	p        *Pipeline
	store    *store.Store
	feed     *feed.Static
	notifier *recordingNotifier
	ledger   *ledger.Memory
}

func newFixture(t *testing.T, src feed.Source) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	now := func() time.Time { return testNow }

	st := store.New(store.WithClock(now))
	rnd := rand.New(rand.NewSource(1))
	scorer, err := risk.NewScorer(st, risk.DefaultTables(), risk.NewRand(1), risk.WithClock(now))
	require.NoError(t, err)

	static, _ := src.(*feed.Static)
	if src == nil {
		static = feed.NewStatic("static")
		src = static
	}
	rec := &recordingNotifier{}
	reg := notify.NewRegistry()
	reg.Register(rec)
	led := ledger.NewMemory()

	p, err := New(ctx, Deps{
		Store:      st,
		Feed:       src,
		Ingestor:   ingest.New(st, ident.New("evt_", rnd), nil),
		Classifier: alert.NewClassifier(ident.New("alr_", rnd), now),
		Scorer:     scorer,
		Rates:      market.NewSynthetic(7, nil),
		Ledger:     led,
		Notifiers:  reg,
	}, config.EngineConf{
		FetchTimeout:    time.Second,
		VerifyThreshold: 5.0,
		Workers:         2,
		QueueDepth:      64,
		TaskTimeout:     time.Second,
	}, WithClock(now), WithMaxCorrelationDays(90))
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		p.Shutdown()
	})
	return &fixture{p: p, store: st, feed: static, notifier: rec, ledger: led}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(context.Background(), Deps{}, config.EngineConf{})
	assert.Error(t, err)
}

func TestRunCycle_AdmitsClassifiesAndAnchors(t *testing.T) {
	f := newFixture(t, nil)
	f.feed.Set(
		raw("a", "Tokyo Bay", 6.5, testNow.Add(-time.Hour), 35.5, 139.8, 35),
		raw("b", "Ridgecrest", 4.2, testNow.Add(-2*time.Hour), 35.7, -117.6, 8),
		raw("c", "Nevada", 2.1, testNow.Add(-3*time.Hour), 38.0, -118.0, 5),
		event.RawRecord{ID: "broken"},
	)

	res, err := f.p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "scheduled", res.Trigger)
	assert.Equal(t, ingest.Report{Received: 4, Admitted: 3, Malformed: 1}, res.Report)
	assert.Equal(t, 2, res.Alerts)
	require.Len(t, res.EventIDs, 3)

	alerts := f.store.Alerts(false, 0)
	require.Len(t, alerts, 2)

	require.Eventually(t, func() bool { return len(f.notifier.received()) == 2 }, 2*time.Second, 10*time.Millisecond)

	// only the 6.5 crosses the verification threshold
	require.Eventually(t, func() bool {
		ev, err := f.store.Event(res.EventIDs[0])
		return err == nil && ev.Verified
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), f.ledger.Height())
	ev, err := f.store.Event(res.EventIDs[1])
	require.NoError(t, err)
	assert.False(t, ev.Verified)

	ready, reason := f.p.Ready()
	assert.True(t, ready, reason)
	assert.Same(t, res, f.p.LastCycle())
}

func TestRunCycle_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.feed.Set(raw("a", "Tokyo Bay", 6.5, testNow.Add(-time.Hour), 35.5, 139.8, 35))

	_, err := f.p.RunCycle(context.Background())
	require.NoError(t, err)
	before := f.store.Stats()

	res, err := f.p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Report.Admitted)
	assert.Equal(t, 1, res.Report.Duplicates)
	assert.Equal(t, 0, res.Alerts)

	after := f.store.Stats()
	assert.Equal(t, before.Events, after.Events)
	assert.Equal(t, before.Alerts, after.Alerts)
}

func TestRunCycle_NotifierFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.notifier.err = errors.New("subscriber gone")
	f.feed.Set(raw("a", "Tokyo Bay", 6.5, testNow.Add(-time.Hour), 35.5, 139.8, 35))

	res, err := f.p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Alerts)
	require.Eventually(t, func() bool { return len(f.notifier.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRunCycle_FetchError(t *testing.T) {
	f := newFixture(t, nil)
	f.feed.Fail(errors.New("upstream down"))

	res, err := f.p.RunCycle(context.Background())
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Contains(t, res.Error, "upstream down")

	ready, reason := f.p.Ready()
	assert.False(t, ready)
	assert.Contains(t, reason, "upstream down")
}

type blockingFeed struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingFeed) Name() string { return "blocking" }

func (b *blockingFeed) Fetch(ctx context.Context) ([]event.RawRecord, error) {
	close(b.entered)
	select {
	case <-b.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRunCycle_SingleFlight(t *testing.T) {
	bf := &blockingFeed{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, bf)

	done := make(chan error, 1)
	go func() {
		_, err := f.p.RunCycle(context.Background())
		done <- err
	}()
	<-bf.entered
	assert.True(t, f.p.Running())

	_, err := f.p.RunCycle(context.Background())
	assert.ErrorIs(t, err, apperr.ErrCycleInProgress)
	assert.True(t, IsSkipped(err))

	close(bf.release)
	require.NoError(t, <-done)
	assert.False(t, f.p.Running())
}

func TestIngestBatch(t *testing.T) {
	f := newFixture(t, nil)
	res := f.p.IngestBatch(context.Background(), []event.RawRecord{
		raw("a", "Tokyo Bay", 4.5, testNow.Add(-time.Hour), 35.5, 139.8, 35),
		raw("a-dup", "Tokyo Bay", 4.55, testNow.Add(-time.Hour+2*time.Minute), 35.5, 139.8, 35),
	})
	assert.Equal(t, "manual", res.Trigger)
	assert.Equal(t, 1, res.Report.Admitted)
	assert.Equal(t, 1, res.Report.Duplicates)
	assert.Equal(t, 1, res.Alerts)
	assert.Nil(t, f.p.LastCycle(), "manual batches do not count as scheduled cycles")
}

func TestScoreFor(t *testing.T) {
	f := newFixture(t, nil)
	res := f.p.IngestBatch(context.Background(), []event.RawRecord{
		raw("a", "Tokyo Bay", 7.2, testNow.Add(-time.Hour), 35.5, 139.8, 35),
	})
	require.Len(t, res.EventIDs, 1)

	a, err := f.p.ScoreFor(context.Background(), res.EventIDs[0])
	require.NoError(t, err)
	assert.Equal(t, res.EventIDs[0], a.EventID)
	again, err := f.p.ScoreFor(context.Background(), res.EventIDs[0])
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.Equal(t, 1, f.p.deps.Scorer.Cached())

	_, err = f.p.ScoreFor(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 1, f.p.deps.Scorer.Cached())
}

func TestCorrelate(t *testing.T) {
	f := newFixture(t, nil)
	f.p.IngestBatch(context.Background(), []event.RawRecord{
		raw("a", "Singapore Strait", 6.1, testNow.Add(-48*time.Hour), 1.2, 103.8, 10),
		raw("b", "Offshore", 4.0, testNow.Add(-24*time.Hour), 1.2, 104.8, 10),
	})

	c, err := f.p.Correlate(context.Background(), "USD/SGD", 7)
	require.NoError(t, err)
	assert.Equal(t, "USD/SGD", c.Pair)
	assert.Equal(t, "synthetic", c.Source)
	assert.Equal(t, 1, c.Events)
	require.Len(t, c.Samples, 7)
	assert.Equal(t, market.Day(testNow), c.To)

	var marked int
	for _, s := range c.Samples {
		if s.Event != nil {
			marked++
			assert.Equal(t, market.Day(testNow.Add(-48*time.Hour)), market.Day(s.Date))
			assert.InDelta(t, 6.1, s.Event.Magnitude, 1e-9)
		}
	}
	assert.Equal(t, 1, marked)
}

func TestCorrelate_InvalidArguments(t *testing.T) {
	f := newFixture(t, nil)
	for _, tc := range []struct {
		pair string
		days int
	}{
		{"USD", 7},
		{"USD/USD", 7},
		{"USD/SGD", 0},
		{"USD/SGD", 91},
	} {
		_, err := f.p.Correlate(context.Background(), tc.pair, tc.days)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument, "%s %d", tc.pair, tc.days)
	}
}

type countingCycler struct {
	calls atomic.Int32
}

func (c *countingCycler) RunCycle(context.Context) (*CycleResult, error) {
	c.calls.Add(1)
	return &CycleResult{}, nil
}

func TestScheduler_RunsImmediatelyAndOnTick(t *testing.T) {
	c := &countingCycler{}
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		NewScheduler(c, 10*time.Millisecond, nil).Run(ctx)
		close(stopped)
	}()
	require.Eventually(t, func() bool { return c.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_DefaultInterval(t *testing.T) {
	s := NewScheduler(&countingCycler{}, 0, nil)
	assert.Equal(t, DefaultInterval, s.interval)
}
