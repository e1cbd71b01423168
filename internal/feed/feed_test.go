package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
)

const sampleFeed = `{
  "type": "FeatureCollection",
  "features": [
    {"id": "us7000abcd", "properties": {"mag": 5.4, "place": "Tokyo Bay", "time": 1714550400000, "tsunami": 0, "net": "us"},
     "geometry": {"coordinates": [139.8, 35.5, 35]}},
    {"id": "ci40000001", "properties": {"mag": 3.1, "place": "Ridgecrest", "time": 1714550460000, "tsunami": 1, "net": "ci"},
     "geometry": {"coordinates": [-117.6, 35.7, 8]}}
  ]
}`

func fastUSGS(url string) *USGS {
	return NewUSGS(USGSConfig{URL: url, Attempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
}

func TestUSGS_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	recs, err := fastUSGS(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "us7000abcd", recs[0].ID)
	require.NotNil(t, recs[0].Properties.Mag)
	assert.InDelta(t, 5.4, *recs[0].Properties.Mag, 1e-9)

	ev, err := event.Normalize(recs[1], "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "ci", ev.Source)
	assert.True(t, ev.Tsunami)
	assert.InDelta(t, 35.7, ev.Latitude, 1e-9)
}

func TestUSGS_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	recs, err := fastUSGS(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUSGS_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := fastUSGS(srv.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUSGS_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := fastUSGS(srv.URL).Fetch(context.Background())
	assert.Error(t, err)
}

func TestRetry_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, 5, time.Second, time.Second, func() error {
		calls++
		return errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestStatic(t *testing.T) {
	mag := 4.2
	rec := event.RawRecord{ID: "a", Properties: event.RawProperties{Mag: &mag}}
	s := NewStatic("static", rec)
	assert.Equal(t, "static", s.Name())

	got, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)

	s.Set()
	got, err = s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)

	boom := errors.New("down")
	s.Fail(boom)
	_, err = s.Fetch(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.geojson")
	require.NoError(t, os.WriteFile(path, []byte(sampleFeed), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file", s.Name())
	recs, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.Error(t, err)
}
