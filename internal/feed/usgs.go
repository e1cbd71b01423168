package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
)

// DefaultUSGSURL is the public hourly summary feed.
const DefaultUSGSURL = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_hour.geojson"

// USGSConfig controls the GeoJSON feed source.
type USGSConfig struct {
	URL          string
	Timeout      time.Duration
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

type featureCollection struct {
	Type     string            `json:"type"`
	Features []event.RawRecord `json:"features"`
}

// USGS fetches a GeoJSON FeatureCollection over HTTP.
type USGS struct {
	cfg    USGSConfig
	client *http.Client
}

func NewUSGS(cfg USGSConfig) *USGS {
	if cfg.URL == "" {
		cfg.URL = DefaultUSGSURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	return &USGS{cfg: cfg, client: NewHTTPClient(cfg.Timeout)}
}

func (s *USGS) Name() string { return "usgs" }

func (s *USGS) Fetch(ctx context.Context) ([]event.RawRecord, error) {
	var out []event.RawRecord
	err := Retry(ctx, s.cfg.Attempts, s.cfg.InitialDelay, s.cfg.MaxDelay, func() error {
		recs, err := s.fetchOnce(ctx)
		if err != nil {
			slog.Warn("feed fetch failed", "source", s.Name(), "err", err)
			return err
		}
		out = recs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.cfg.URL, err)
	}
	return out, nil
}

func (s *USGS) fetchOnce(ctx context.Context) ([]event.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, permanent{err}
	}
	req.Header.Set("Accept", "application/geo+json, application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, b)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent{err}
		}
		return nil, err
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, permanent{fmt.Errorf("decode feature collection: %w", err)}
	}
	return fc.Features, nil
}
