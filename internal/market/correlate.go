// Package market overlays significant seismic events onto exchange-rate
// series.
package market

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
	"github.com/gyaneshwarpardhi/quakerisk/internal/metrics"
)

const (
	// MinMagnitude is the smallest magnitude that moves a rate.
	MinMagnitude = 5.0
	// AftershockShare is the fraction of the impact applied to the next sample.
	AftershockShare = 0.4
)

// EventRef is the event metadata attached to a correlated sample.
type EventRef struct {
	ID        string  `json:"id"`
	Magnitude float64 `json:"magnitude"`
	Place     string  `json:"place"`
	Impact    float64 `json:"impact"` // signed fraction applied to the rate
}

// Sample is one day of a currency-pair series.
type Sample struct {
	Date       time.Time `json:"date"`
	Rate       float64   `json:"rate"`
	Event      *EventRef `json:"event,omitempty"`
	Aftershock bool      `json:"aftershock,omitempty"`
}

// ImpactFor returns the unsigned rate impact of an event of magnitude m.
func ImpactFor(m float64) float64 {
	switch {
	case m >= 7.0:
		return 0.02
	case m >= 6.0:
		return 0.01
	default:
		return 0.005
	}
}

// Direction is -1 when the pair is quoted in USD (the dollar strengthens
// and the quoted rate falls) and +1 otherwise.
func Direction(p Pair) float64 {
	if p.Base == "USD" {
		return -1
	}
	return 1
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Correlate returns an annotated copy of series. Events with magnitude of
// at least MinMagnitude move the sample dated on the event's day and, by
// AftershockShare of the impact, the next chronological sample. Events
// sharing a day are applied one after another in the order given.
func Correlate(series []Sample, events []event.Event, pair Pair) []Sample {
	out := make([]Sample, len(series))
	for i, s := range series {
		out[i] = s
		if s.Event != nil {
			ref := *s.Event
			out[i].Event = &ref
		}
	}
	dir := Direction(pair)
	for _, ev := range events {
		if ev.Magnitude < MinMagnitude {
			continue
		}
		idx := sampleOn(out, Day(ev.Time))
		if idx < 0 {
			continue
		}
		impact := dir * ImpactFor(ev.Magnitude)
		out[idx].Rate = applyImpact(out[idx].Rate, impact)
		out[idx].Event = &EventRef{ID: ev.ID, Magnitude: ev.Magnitude, Place: ev.Place, Impact: impact}
		metrics.CorrelatedSamples.Inc()

		if next := nextAfter(out, out[idx].Date); next >= 0 {
			out[next].Rate = applyImpact(out[next].Rate, impact*AftershockShare)
			out[next].Aftershock = true
		}
	}
	return out
}

func applyImpact(rate, impact float64) float64 {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(impact))
	return decimal.NewFromFloat(rate).Mul(factor).Round(4).InexactFloat64()
}

func sampleOn(series []Sample, day time.Time) int {
	for i, s := range series {
		if Day(s.Date).Equal(day) {
			return i
		}
	}
	return -1
}

// nextAfter returns the index of the earliest sample strictly after day.
func nextAfter(series []Sample, day time.Time) int {
	day = Day(day)
	best := -1
	for i, s := range series {
		d := Day(s.Date)
		if !d.After(day) {
			continue
		}
		if best < 0 || d.Before(Day(series[best].Date)) {
			best = i
		}
	}
	return best
}
