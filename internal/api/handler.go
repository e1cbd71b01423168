package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/quakerisk/internal/access"
	"github.com/gyaneshwarpardhi/quakerisk/internal/apperr"
	"github.com/gyaneshwarpardhi/quakerisk/internal/engine"
	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
	"github.com/gyaneshwarpardhi/quakerisk/internal/risk"
	"github.com/gyaneshwarpardhi/quakerisk/internal/store"
)

const (
	maxBatchSize    = 500
	defaultPageSize = 100
	maxBodyBytes    = 4 << 20
)

// Pipeline is the engine surface the handlers use.
type Pipeline interface {
	IngestBatch(ctx context.Context, records []event.RawRecord) *engine.CycleResult
	ScoreFor(ctx context.Context, id string) (*risk.Assessment, error)
	Correlate(ctx context.Context, pair string, days int) (*engine.Correlation, error)
	Ready() (bool, string)
	LastCycle() *engine.CycleResult
	QueueUtilization() float64
}

// Streamer upgrades a request to an alert stream.
type Streamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Options tunes the per-key request smoothing. AdminToken authorises key
// management; when empty those routes answer 403.
type Options struct {
	RatePerSecond float64
	Burst         int
	AdminToken    string
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	pipeline Pipeline
	store    *store.Store
	access   *access.Controller
	stream   Streamer
	limits   *limiterSet
	admin    string
	validate *validator.Validate
	mux      *http.ServeMux
}

// New creates an HTTP handler and registers all routes. stream may be nil.
func New(p Pipeline, st *store.Store, ac *access.Controller, stream Streamer, opts Options) *Handler {
	h := &Handler{
		pipeline: p,
		store:    st,
		access:   ac,
		stream:   stream,
		limits:   newLimiterSet(opts.RatePerSecond, opts.Burst),
		admin:    opts.AdminToken,
		validate: validator.New(),
		mux:      http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /v1/events", h.listEvents)
	h.mux.HandleFunc("GET /v1/events/{id}", h.getEvent)
	h.mux.HandleFunc("PUT /v1/events/{id}/tsunami", h.setTsunami)
	h.mux.HandleFunc("GET /v1/alerts", h.listAlerts)
	h.mux.HandleFunc("DELETE /v1/alerts/{id}", h.deactivateAlert)
	h.mux.HandleFunc("POST /v1/ingest", h.ingest)
	h.mux.HandleFunc("GET /v1/ingest/last", h.lastCycle)
	h.mux.HandleFunc("GET /v1/risk/{id}", h.requireKey(h.riskScore))
	h.mux.HandleFunc("GET /v1/market/correlation", h.requireKey(h.correlation))
	h.mux.HandleFunc("GET /v1/keys/validate", h.validateKey)
	h.mux.HandleFunc("POST /v1/keys", h.requireOperator(h.issueKey))
	h.mux.HandleFunc("GET /v1/keys", h.requireOperator(h.listKeys))
	h.mux.HandleFunc("GET /v1/keys/{id}", h.requireOperator(h.getKey))
	h.mux.HandleFunc("POST /v1/keys/{id}/renew", h.requireOperator(h.renewKey))
	h.mux.HandleFunc("DELETE /v1/keys/{id}", h.requireOperator(h.revokeKey))
	if stream != nil {
		h.mux.HandleFunc("GET /ws/alerts", stream.ServeWS)
	}
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	loggingMiddleware(h.mux).ServeHTTP(w, r)
}

// CleanupLimiters drops idle per-key limiters. Call periodically.
func (h *Handler) CleanupLimiters() int {
	return h.limits.Cleanup()
}

// GET /v1/events — filtered listing, newest first.
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.Filter
	var err error
	if f.MinMagnitude, err = floatParam(q.Get("min_magnitude")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.MaxMagnitude, err = floatParam(q.Get("max_magnitude")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Since, err = timeParam(q.Get("since")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Until, err = timeParam(q.Get("until")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Limit, err = limitParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Place = q.Get("place")
	f.VerifiedOnly = q.Get("verified") == "true"
	f.TsunamiOnly = q.Get("tsunami") == "true"

	events := h.store.Events(f)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

// GET /v1/events/{id}
func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.store.Event(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type tsunamiRequest struct {
	Tsunami *bool `json:"tsunami" validate:"required"`
}

// PUT /v1/events/{id}/tsunami — corrects the tsunami flag after issuance.
func (h *Handler) setTsunami(w http.ResponseWriter, r *http.Request) {
	var req tsunamiRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: apperr.Code(apperr.ErrInvalidArgument)})
		return
	}
	id := r.PathValue("id")
	if err := h.store.SetTsunami(id, *req.Tsunami); err != nil {
		writeAppError(w, err)
		return
	}
	ev, err := h.store.Event(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// GET /v1/alerts?active=true&limit=N
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	alerts := h.store.Alerts(r.URL.Query().Get("active") == "true", limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

// DELETE /v1/alerts/{id}
func (h *Handler) deactivateAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeactivateAlert(r.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ingestRequest struct {
	Features []event.RawRecord `json:"features"`
}

// POST /v1/ingest — synchronous manual batch, GeoJSON FeatureCollection shape.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Features) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one feature")
		return
	}
	if len(req.Features) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(req.Features), maxBatchSize))
		return
	}
	writeJSON(w, http.StatusOK, h.pipeline.IngestBatch(r.Context(), req.Features))
}

// GET /v1/ingest/last — most recent scheduled cycle.
func (h *Handler) lastCycle(w http.ResponseWriter, r *http.Request) {
	last := h.pipeline.LastCycle()
	if last == nil {
		writeError(w, http.StatusNotFound, "no ingestion cycle has run yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// GET /v1/risk/{id}
func (h *Handler) riskScore(w http.ResponseWriter, r *http.Request) {
	a, err := h.pipeline.ScoreFor(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GET /v1/market/correlation?pair=USD/JPY&days=30
func (h *Handler) correlation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pair := q.Get("pair")
	if pair == "" {
		writeError(w, http.StatusBadRequest, "pair is required")
		return
	}
	days := 30
	if s := q.Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid days %q", s))
			return
		}
		days = n
	}
	c, err := h.pipeline.Correlate(r.Context(), pair, days)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// POST /v1/keys — the only response that carries the full key.
func (h *Handler) issueKey(w http.ResponseWriter, r *http.Request) {
	var req access.IssueRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	k, err := h.access.Issue(req.Owner, req.Organization, req.ContactEmail, req.DurationDays, req.RequestLimit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, k)
}

// GET /v1/keys?owner=X — key material is masked.
func (h *Handler) listKeys(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}
	keys := h.access.ListByOwner(owner)
	for i := range keys {
		keys[i].Key = maskKey(keys[i].Key)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(keys),
		"keys":  keys,
	})
}

// GET /v1/keys/{id}
func (h *Handler) getKey(w http.ResponseWriter, r *http.Request) {
	k, err := h.access.ByID(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	k.Key = maskKey(k.Key)
	writeJSON(w, http.StatusOK, k)
}

// GET /v1/keys/validate — read-only status of the presented key.
func (h *Handler) validateKey(w http.ResponseWriter, r *http.Request) {
	st, err := h.access.Validate(r.Header.Get(APIKeyHeader))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type renewRequest struct {
	Days          int `json:"days" validate:"gte=0,lte=3650"`
	ExtraRequests int `json:"extra_requests" validate:"gte=0"`
}

// POST /v1/keys/{id}/renew
func (h *Handler) renewKey(w http.ResponseWriter, r *http.Request) {
	var req renewRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: apperr.Code(apperr.ErrInvalidArgument)})
		return
	}
	sub, err := h.access.ByID(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	k, err := h.access.Renew(sub.Key, req.Days, req.ExtraRequests)
	if err != nil {
		writeAppError(w, err)
		return
	}
	k.Key = maskKey(k.Key)
	writeJSON(w, http.StatusOK, k)
}

// DELETE /v1/keys/{id}
func (h *Handler) revokeKey(w http.ResponseWriter, r *http.Request) {
	sub, err := h.access.ByID(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := h.access.Revoke(sub.Key); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 unless the last scheduled cycle succeeded and the
// background queue is below 80%.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	ok, reason := h.pipeline.Ready()
	body := map[string]interface{}{
		"queue_utilization": h.pipeline.QueueUtilization(),
		"events":            h.store.Stats().Events,
	}
	if !ok {
		body["status"] = "unavailable"
		body["reason"] = reason
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "ready"
	writeJSON(w, http.StatusOK, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %s", err)
	}
	return nil
}

func floatParam(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return f, nil
}

func timeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want RFC3339", s)
	}
	return t, nil
}

func limitParam(s string) (int, error) {
	if s == "" {
		return defaultPageSize, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", s)
	}
	return n, nil
}

func maskKey(k string) string {
	if len(k) <= 8 {
		return strings.Repeat("*", len(k))
	}
	return k[:7] + strings.Repeat("*", 8)
}
