// Package risk computes the financial-impact assessment of a seismic event.
//
// The market impact score weighs three factors: magnitude (50%), depth (20%)
// and proximity to a curated financial center (30%). Assessments are cached
// per event id for the lifetime of the process; the first computed result
// for an id is the one every caller sees.
package risk

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
	"github.com/gyaneshwarpardhi/quakerisk/internal/metrics"
)

// Rand is the randomness used for volatility noise and per-market factors.
// Implementations must be safe for concurrent use.
type Rand interface {
	Float64() float64
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a concurrency-safe Rand seeded with seed.
func NewRand(seed int64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// EventLookup resolves event ids.
type EventLookup interface {
	Event(id string) (event.Event, error)
}

// Factors is the per-factor breakdown behind a score.
type Factors struct {
	Magnitude float64 `json:"magnitude"`
	Depth     float64 `json:"depth"`
	Location  float64 `json:"location"`
}

// Assessment is the cached financial-impact evaluation of one event.
// Values returned by the Scorer are shared and must not be mutated.
type Assessment struct {
	EventID              string         `json:"event_id"`
	MarketImpactScore    int            `json:"market_impact_score"`
	VolatilityIndex      int            `json:"volatility_index"`
	RiskLevel            Level          `json:"risk_level"`
	AffectedMarkets      []string       `json:"affected_markets"`
	AffectedCurrencies   []string       `json:"affected_currencies"`
	MarketSpecificScores map[string]int `json:"market_specific_scores"`
	Factors              Factors        `json:"factors"`
	NearestCenter        string         `json:"nearest_center,omitempty"`
	AssessedAt           time.Time      `json:"assessed_at"`
}

// Scorer computes and caches assessments.
type Scorer struct {
	events EventLookup
	tables Tables
	rnd    Rand
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]*Assessment
}

// Option customises a Scorer.
type Option func(*Scorer)

// WithClock replaces time.Now for AssessedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// NewScorer validates tables and returns a Scorer. A nil rnd is seeded from
// the wall clock.
func NewScorer(events EventLookup, tables Tables, rnd Rand, opts ...Option) (*Scorer, error) {
	if tables.RegionRadiusKm == 0 {
		tables.RegionRadiusKm = DefaultRegionRadiusKm
	}
	if err := ValidateTables(tables); err != nil {
		return nil, err
	}
	if rnd == nil {
		rnd = NewRand(time.Now().UnixNano())
	}
	s := &Scorer{
		events: events,
		tables: tables,
		rnd:    rnd,
		now:    time.Now,
		cache:  make(map[string]*Assessment),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ScoreFor returns the assessment for a stored event. Unknown ids yield an
// apperr.ErrNotFound and leave the cache untouched.
func (s *Scorer) ScoreFor(_ context.Context, id string) (*Assessment, error) {
	if a, ok := s.cached(id); ok {
		metrics.RiskAssessments.WithLabelValues("cached").Inc()
		return a, nil
	}
	ev, err := s.events.Event(id)
	if err != nil {
		metrics.RiskAssessments.WithLabelValues("not_found").Inc()
		return nil, err
	}
	return s.Assess(ev), nil
}

// Assess returns the cached assessment for ev.ID, computing it on first use.
// Concurrent first calls may both compute; only the first insert is kept.
func (s *Scorer) Assess(ev event.Event) *Assessment {
	if a, ok := s.cached(ev.ID); ok {
		metrics.RiskAssessments.WithLabelValues("cached").Inc()
		return a
	}
	computed := s.compute(ev)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.cache[ev.ID]; ok {
		return existing
	}
	s.cache[ev.ID] = computed
	metrics.RiskAssessments.WithLabelValues("computed").Inc()
	return computed
}

// Cached reports how many assessments are held.
func (s *Scorer) Cached() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

func (s *Scorer) cached(id string) (*Assessment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.cache[id]
	return a, ok
}

func (s *Scorer) compute(ev event.Event) *Assessment {
	loc, center := s.LocationImpact(ev.Latitude, ev.Longitude)
	f := Factors{
		Magnitude: MagnitudeImpact(ev.Magnitude),
		Depth:     DepthImpact(ev.Depth),
		Location:  loc,
	}
	score := clampRound(MagnitudeWeight*f.Magnitude + DepthWeight*f.Depth + LocationWeight*f.Location)

	noise := s.rnd.Float64() * 20
	markets, currencies := s.AffectedBy(ev.Latitude, ev.Longitude)
	perMarket := make(map[string]int, len(markets))
	for _, m := range markets {
		factor := 0.7 + s.rnd.Float64()*0.5
		perMarket[m] = clampRound(float64(score) * factor)
	}

	return &Assessment{
		EventID:              ev.ID,
		MarketImpactScore:    score,
		VolatilityIndex:      clampRound(float64(score)*0.8 + noise),
		RiskLevel:            LevelFor(score),
		AffectedMarkets:      markets,
		AffectedCurrencies:   currencies,
		MarketSpecificScores: perMarket,
		Factors:              f,
		NearestCenter:        center,
		AssessedAt:           s.now(),
	}
}

// LocationImpact returns the score of the highest-scoring financial center
// whose radius covers the point, or DefaultLocationImpact.
func (s *Scorer) LocationImpact(lat, lon float64) (float64, string) {
	best, name := -1.0, ""
	for _, c := range s.tables.Centers {
		if Haversine(lat, lon, c.Latitude, c.Longitude) > c.RadiusKm {
			continue
		}
		if c.Score > best {
			best, name = c.Score, c.Name
		}
	}
	if best < 0 {
		return DefaultLocationImpact, ""
	}
	return best, name
}

// AffectedBy returns the markets and currencies of every region within the
// region radius of the point, in table order, or the global fallback.
func (s *Scorer) AffectedBy(lat, lon float64) (markets, currencies []string) {
	seenCur := make(map[string]bool)
	seenMkt := make(map[string]bool)
	for _, r := range s.tables.Regions {
		if Haversine(lat, lon, r.Latitude, r.Longitude) > s.tables.RegionRadiusKm {
			continue
		}
		for _, m := range r.Markets {
			if !seenMkt[m] {
				seenMkt[m] = true
				markets = append(markets, m)
			}
		}
		if !seenCur[r.Currency] {
			seenCur[r.Currency] = true
			currencies = append(currencies, r.Currency)
		}
	}
	if len(markets) == 0 {
		markets = append([]string(nil), FallbackMarkets...)
		currencies = append([]string(nil), FallbackCurrencies...)
	}
	return markets, currencies
}
