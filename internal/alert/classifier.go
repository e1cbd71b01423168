// Package alert derives severity alerts from newly admitted events.
package alert

import (
	"time"

	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
)

const (
	ModerateThreshold = 4.0
	MajorThreshold    = 6.0

	ModerateMessage = "Moderate Earthquake Alert"
	MajorMessage    = "Major Earthquake Warning"
)

// IDSource yields fresh alert identifiers.
type IDSource interface {
	Next() string
}

// Classifier maps an event's magnitude to an alert.
type Classifier struct {
	ids IDSource
	now func() time.Time
}

// NewClassifier creates a Classifier. A nil now uses time.Now.
func NewClassifier(ids IDSource, now func() time.Time) *Classifier {
	if now == nil {
		now = time.Now
	}
	return &Classifier{ids: ids, now: now}
}

// SeverityFor returns the severity for magnitude m, or false below the
// moderate threshold.
func SeverityFor(m float64) (event.Severity, string, bool) {
	switch {
	case m >= MajorThreshold:
		return event.SeverityHigh, MajorMessage, true
	case m >= ModerateThreshold:
		return event.SeverityMedium, ModerateMessage, true
	default:
		return "", "", false
	}
}

// Classify builds the alert for ev, if it qualifies. The alert is a snapshot
// of the event at classification time.
func (c *Classifier) Classify(ev event.Event) (*event.Alert, bool) {
	sev, msg, ok := SeverityFor(ev.Magnitude)
	if !ok {
		return nil, false
	}
	return &event.Alert{
		ID:        c.ids.Next(),
		Message:   msg,
		Severity:  sev,
		Magnitude: ev.Magnitude,
		Location:  ev.Place,
		EventID:   ev.ID,
		Active:    true,
		CreatedAt: c.now(),
	}, true
}
