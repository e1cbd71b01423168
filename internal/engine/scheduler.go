package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the ingestion period when none is configured.
const DefaultInterval = 5 * time.Minute

// Cycler runs one ingestion cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (*CycleResult, error)
}

// Scheduler triggers a cycle immediately and then on every tick. Each tick
// runs in its own goroutine, so a slow cycle makes later ticks skip rather
// than queue.
type Scheduler struct {
	c        Cycler
	interval time.Duration
	log      *slog.Logger
}

func NewScheduler(c Cycler, interval time.Duration, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{c: c, interval: interval, log: log.With("component", "scheduler")}
}

// Run blocks until ctx is cancelled and in-flight cycles have returned.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	trigger := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.c.RunCycle(ctx); err != nil {
				if IsSkipped(err) {
					s.log.Warn("ingestion cycle skipped, previous cycle still running")
					return
				}
				if ctx.Err() == nil {
					s.log.Error("ingestion cycle failed", "err", err)
				}
			}
		}()
	}

	s.log.Info("scheduler started", "interval", s.interval)
	trigger()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			trigger()
		}
	}
}
