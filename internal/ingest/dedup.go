package ingest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
)

const (
	// MagnitudeTolerance is the exclusive magnitude delta under which two
	// reports are the same occurrence.
	MagnitudeTolerance = 0.1
	// TimeTolerance is the exclusive time delta under which two reports are
	// the same occurrence.
	TimeTolerance = 5 * time.Minute
)

var magnitudeTolerance = decimal.NewFromFloat(MagnitudeTolerance)

// IsDuplicate reports whether candidate describes the same occurrence as
// existing: identical place, magnitude within 0.1 and time within 5 minutes.
// Magnitudes are compared as decimals so that 5.0 and 5.1 are 0.1 apart.
func IsDuplicate(existing, candidate event.Event) bool {
	if existing.Place != candidate.Place {
		return false
	}
	delta := decimal.NewFromFloat(existing.Magnitude).Sub(decimal.NewFromFloat(candidate.Magnitude)).Abs()
	if delta.GreaterThanOrEqual(magnitudeTolerance) {
		return false
	}
	dt := existing.Time.Sub(candidate.Time)
	if dt < 0 {
		dt = -dt
	}
	return dt < TimeTolerance
}
