package market

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RateSource yields one sample per date for a currency pair.
type RateSource interface {
	Name() string
	Series(ctx context.Context, pair Pair, from, to time.Time) ([]Sample, error)
}

// Synthetic generates a seeded daily random walk around a reference rate.
// The same seed, pair and range always produce the same series.
type Synthetic struct {
	seed int64
	refs map[string]float64
	mu   sync.Mutex
}

var defaultRefs = map[string]float64{
	"USD/JPY": 150.0,
	"USD/SGD": 1.34,
	"USD/CNY": 7.2,
	"USD/AUD": 1.52,
	"EUR/USD": 1.08,
	"GBP/USD": 1.27,
}

// NewSynthetic returns a synthetic source. refs override or extend the
// built-in reference rates, keyed by "BASE/QUOTE".
func NewSynthetic(seed int64, refs map[string]float64) *Synthetic {
	merged := make(map[string]float64, len(defaultRefs)+len(refs))
	for k, v := range defaultRefs {
		merged[k] = v
	}
	for k, v := range refs {
		merged[strings.ToUpper(k)] = v
	}
	return &Synthetic{seed: seed, refs: merged}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Series(ctx context.Context, pair Pair, from, to time.Time) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from, to = Day(from), Day(to)
	if to.Before(from) {
		return nil, fmt.Errorf("synthetic series: range end %s before start %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	s.mu.Lock()
	ref, ok := s.refs[pair.String()]
	s.mu.Unlock()
	if !ok {
		ref = 1.0
	}
	// seed by pair and start day so overlapping requests agree
	h := int64(0)
	for _, r := range pair.String() {
		h = h*31 + int64(r)
	}
	rnd := rand.New(rand.NewSource(s.seed ^ h ^ from.Unix()))

	var out []Sample
	rate := decimal.NewFromFloat(ref)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		step := decimal.NewFromFloat((rnd.Float64() - 0.5) * 0.01)
		rate = rate.Mul(decimal.NewFromInt(1).Add(step)).Round(4)
		out = append(out, Sample{Date: d, Rate: rate.InexactFloat64()})
	}
	return out, nil
}

// HTTPSource reads a timeseries from a Frankfurter-compatible endpoint:
// GET {base}/{from}..{to}?from=BASE&to=QUOTE.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates an HTTP rate source.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if baseURL == "" {
		baseURL = "https://api.frankfurter.app"
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout, Transport: tr},
	}
}

func (h *HTTPSource) Name() string { return "http" }

type timeseriesResp struct {
	Rates map[string]map[string]float64 `json:"rates"`
}

func (h *HTTPSource) Series(ctx context.Context, pair Pair, from, to time.Time) ([]Sample, error) {
	u := fmt.Sprintf("%s/%s..%s?from=%s&to=%s", h.baseURL,
		Day(from).Format(time.DateOnly), Day(to).Format(time.DateOnly), pair.Base, pair.Quote)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rate series %s: %w", pair, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate series %s: unexpected status %d", pair, resp.StatusCode)
	}
	var body timeseriesResp
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("rate series %s: decode: %w", pair, err)
	}
	out := make([]Sample, 0, len(body.Rates))
	for day, quotes := range body.Rates {
		rate, ok := quotes[pair.Quote]
		if !ok {
			continue
		}
		d, err := time.Parse(time.DateOnly, day)
		if err != nil {
			return nil, fmt.Errorf("rate series %s: bad date %q: %w", pair, day, err)
		}
		out = append(out, Sample{Date: d, Rate: rate})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
