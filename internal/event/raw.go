package event

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/quakerisk/internal/apperr"
)

// RawRecord is a candidate record as delivered by a feed, shaped like a
// GeoJSON feature. Every field is optional so malformed input can be told
// apart from zero values.
type RawRecord struct {
	ID         string        `json:"id"`
	Source     string        `json:"source,omitempty"`
	Properties RawProperties `json:"properties"`
	Geometry   *RawGeometry  `json:"geometry"`
}

type RawProperties struct {
	Mag     *float64 `json:"mag"`
	Place   string   `json:"place"`
	Time    any      `json:"time"`    // epoch millis or RFC3339 text
	Tsunami any      `json:"tsunami"` // 0/1, bool or "true"/"1"
	Net     string   `json:"net,omitempty"`
}

// RawGeometry holds [longitude, latitude, depth].
type RawGeometry struct {
	Coordinates []float64 `json:"coordinates"`
}

// Normalize converts a raw record into an Event carrying the given id.
// The result is always unverified.
func Normalize(r RawRecord, id string) (Event, error) {
	if r.Geometry == nil || len(r.Geometry.Coordinates) < 2 {
		return Event{}, fmt.Errorf("record %q: missing coordinates: %w", r.ID, apperr.ErrMalformedInput)
	}
	lon, lat := r.Geometry.Coordinates[0], r.Geometry.Coordinates[1]
	if !validCoord(lat, 90) || !validCoord(lon, 180) {
		return Event{}, fmt.Errorf("record %q: coordinates out of range (%v, %v): %w", r.ID, lat, lon, apperr.ErrMalformedInput)
	}
	var depth float64
	if len(r.Geometry.Coordinates) > 2 {
		depth = r.Geometry.Coordinates[2]
	}
	if r.Properties.Mag == nil || math.IsNaN(*r.Properties.Mag) || math.IsInf(*r.Properties.Mag, 0) {
		return Event{}, fmt.Errorf("record %q: missing magnitude: %w", r.ID, apperr.ErrMalformedInput)
	}
	t, err := parseTime(r.Properties.Time)
	if err != nil {
		return Event{}, fmt.Errorf("record %q: %v: %w", r.ID, err, apperr.ErrMalformedInput)
	}

	source := r.Source
	if source == "" {
		source = r.Properties.Net
	}
	if source == "" {
		source = "usgs"
	}
	return Event{
		ID:        id,
		Place:     r.Properties.Place,
		Magnitude: *r.Properties.Mag,
		Depth:     depth,
		Latitude:  lat,
		Longitude: lon,
		Time:      t,
		Source:    source,
		Verified:  false,
		Tsunami:   truthy(r.Properties.Tsunami),
	}, nil
}

func validCoord(v, limit float64) bool {
	return !math.IsNaN(v) && v >= -limit && v <= limit
}

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("missing time")
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case int:
		return time.UnixMilli(int64(t)).UTC(), nil
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("time %q: %v", t, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	case time.Time:
		if t.IsZero() {
			return time.Time{}, fmt.Errorf("missing time")
		}
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, fmt.Errorf("missing time")
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("time %q: %v", s, err)
		}
		return parsed.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported time type %T", v)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes":
			return true
		}
	}
	return false
}
