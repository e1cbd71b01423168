package event_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/quakerisk/internal/apperr"
	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
)

func mag(v float64) *float64 { return &v }

func TestNormalize_GeoJSONFeature(t *testing.T) {
	const feature = `{
		"id": "us7000abcd",
		"properties": {"mag": 6.1, "place": "10 km S of Hualien", "time": 1700000000000, "tsunami": 1, "net": "us"},
		"geometry": {"coordinates": [121.6, 23.9, 15.5]}
	}`
	var r event.RawRecord
	if err := json.Unmarshal([]byte(feature), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ev, err := event.Normalize(r, "evt-1")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.ID != "evt-1" || ev.Place != "10 km S of Hualien" || ev.Magnitude != 6.1 {
		t.Errorf("unexpected identity fields: %+v", ev)
	}
	if ev.Latitude != 23.9 || ev.Longitude != 121.6 || ev.Depth != 15.5 {
		t.Errorf("coordinates not extracted: %+v", ev)
	}
	if !ev.Time.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("time = %v", ev.Time)
	}
	if !ev.Tsunami {
		t.Error("tsunami flag 1 should coerce to true")
	}
	if ev.Verified {
		t.Error("normalized events must start unverified")
	}
	if ev.Source != "us" {
		t.Errorf("source = %q, want net fallback %q", ev.Source, "us")
	}
}

func TestNormalize_TimeFormats(t *testing.T) {
	want := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		in   any
	}{
		{"rfc3339", "2024-01-01T12:00:00Z"},
		{"millis float", float64(want.UnixMilli())},
		{"millis text", "1704110400000"},
		{"time value", want},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := event.RawRecord{
				Properties: event.RawProperties{Mag: mag(4), Place: "X", Time: tc.in},
				Geometry:   &event.RawGeometry{Coordinates: []float64{1, 2}},
			}
			ev, err := event.Normalize(r, "id")
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if !ev.Time.Equal(want) {
				t.Errorf("time = %v, want %v", ev.Time, want)
			}
		})
	}
}

func TestNormalize_Tsunami(t *testing.T) {
	cases := []struct {
		in   any
		want bool
	}{
		{nil, false}, {0.0, false}, {1.0, true}, {true, true}, {"true", true}, {"0", false},
	}
	for _, tc := range cases {
		r := event.RawRecord{
			Properties: event.RawProperties{Mag: mag(4), Time: "2024-01-01T00:00:00Z", Tsunami: tc.in},
			Geometry:   &event.RawGeometry{Coordinates: []float64{1, 2}},
		}
		ev, err := event.Normalize(r, "id")
		if err != nil {
			t.Fatalf("Normalize(%v): %v", tc.in, err)
		}
		if ev.Tsunami != tc.want {
			t.Errorf("tsunami %v -> %v, want %v", tc.in, ev.Tsunami, tc.want)
		}
	}
}

func TestNormalize_Malformed(t *testing.T) {
	good := func() event.RawRecord {
		return event.RawRecord{
			Properties: event.RawProperties{Mag: mag(5), Place: "X", Time: "2024-01-01T00:00:00Z"},
			Geometry:   &event.RawGeometry{Coordinates: []float64{10, 20, 5}},
		}
	}
	cases := map[string]func(r *event.RawRecord){
		"no geometry":    func(r *event.RawRecord) { r.Geometry = nil },
		"one coordinate": func(r *event.RawRecord) { r.Geometry.Coordinates = []float64{1} },
		"bad latitude":   func(r *event.RawRecord) { r.Geometry.Coordinates = []float64{10, 95} },
		"no magnitude":   func(r *event.RawRecord) { r.Properties.Mag = nil },
		"no time":        func(r *event.RawRecord) { r.Properties.Time = nil },
		"bad time":       func(r *event.RawRecord) { r.Properties.Time = "yesterday" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := good()
			mutate(&r)
			_, err := event.Normalize(r, "id")
			if !errors.Is(err, apperr.ErrMalformedInput) {
				t.Fatalf("expected ErrMalformedInput, got %v", err)
			}
		})
	}
}
