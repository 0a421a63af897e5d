package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/DeafMist/sec-intel-radar/backend/internal/config"
	"github.com/DeafMist/sec-intel-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/sec-intel-radar/backend/internal/feed"
	"github.com/DeafMist/sec-intel-radar/backend/internal/metrics"
	"github.com/DeafMist/sec-intel-radar/backend/internal/models"
	"github.com/DeafMist/sec-intel-radar/backend/internal/scan"
)

const staleHeader = "X-Snapshot-Stale"

type store interface {
	eventSource
	Health(ctx context.Context) error
	CountEventsBySource(ctx context.Context) (map[string]int64, error)
	ListWebsites(ctx context.Context) ([]models.Website, error)
	GetWebsite(ctx context.Context, id string) (models.Website, error)
	SaveWebsite(ctx context.Context, w models.Website) error
	DeleteWebsite(ctx context.Context, id string) error
	ListPrompts(ctx context.Context) ([]models.Prompt, error)
	SavePrompt(ctx context.Context, p models.Prompt) error
}

type server struct {
	log     *slog.Logger
	cfg     *config.API
	store   store
	snap    *snapshot
	scanner scan.Trigger
	metrics *metrics.Metrics
	now     func() time.Time
}

func newServer(log *slog.Logger, cfg *config.API, st store, scanner scan.Trigger, m *metrics.Metrics) *server {
	return &server{
		log:     log,
		cfg:     cfg,
		store:   st,
		snap:    newSnapshot(st, cfg.SnapshotSize, cfg.RefreshTimeout, log, m),
		scanner: scanner,
		metrics: m,
		now:     time.Now,
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{staleHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/events", func(r chi.Router) {
		r.Get("/", s.handleEvents)
		r.Get("/latest", s.handleLatest)
		r.Get("/facets", s.handleFacets)
	})

	r.Route("/websites", func(r chi.Router) {
		r.Get("/", s.handleListWebsites)
		r.Post("/", s.handleAddWebsite)
		r.Delete("/{id}", s.handleDeleteWebsite)
	})

	r.Post("/scan", s.handleScanAll)
	r.Post("/scan/{id}", s.handleScan)

	r.Get("/prompts", s.handleListPrompts)
	r.Post("/prompts/{name}", s.handleSavePrompt)

	return r
}

// eventView adds the timestamp the dashboard shows: the publication date, or
// the scan time for events without one.
type eventView struct {
	models.Event
	DisplayTime time.Time `json:"display_time"`
}

func presentEvents(events []models.Event) []eventView {
	out := make([]eventView, 0, len(events))
	for _, ev := range events {
		out = append(out, eventView{Event: ev, DisplayTime: ev.DisplayTime()})
	}
	return out
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loadEvents fetches the current collection, marking stale responses.
func (s *server) loadEvents(w http.ResponseWriter, r *http.Request) ([]models.Event, bool) {
	events, stale, err := s.snap.Load(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return nil, false
	}
	if stale {
		w.Header().Set(staleHeader, "true")
	}
	return events, true
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, ok := s.loadEvents(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	selected := feed.NewFacetSet(parseFacets(query)...)
	writeJSON(w, http.StatusOK, presentEvents(feed.Filter(events, query.Get("q"), selected)))
}

func (s *server) handleLatest(w http.ResponseWriter, r *http.Request) {
	events, ok := s.loadEvents(w, r)
	if !ok {
		return
	}

	k := clampInt(r.URL.Query().Get("k"), s.cfg.HighlightCount, 50)
	writeJSON(w, http.StatusOK, presentEvents(feed.SelectHighlights(events, k)))
}

func (s *server) handleFacets(w http.ResponseWriter, r *http.Request) {
	events, ok := s.loadEvents(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, feed.BuildFacetIndex(events))
}

func (s *server) handleListWebsites(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sites, err := s.store.ListWebsites(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	counts, err := s.store.CountEventsBySource(ctx)
	if err != nil {
		s.log.Warn("count events by source", slog.Any("err", err))
		counts = nil
	}
	for i := range sites {
		sites[i].EventCount = counts[sites[i].ID]
	}

	writeJSON(w, http.StatusOK, sites)
}

func (s *server) handleAddWebsite(w http.ResponseWriter, r *http.Request) {
	var site models.Website
	if err := json.NewDecoder(r.Body).Decode(&site); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	site.Name = strings.TrimSpace(site.Name)
	site.URL = strings.TrimSpace(site.URL)
	site.Description = strings.TrimSpace(site.Description)
	if site.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name is required"})
		return
	}
	if !isHTTPURL(site.URL) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "url must be an absolute http(s) URL"})
		return
	}
	site.ID = uuid.NewString()
	site.LastScrapedAt = nil
	site.EventCount = 0

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.SaveWebsite(ctx, site); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	s.log.Info("website added", slog.String("id", site.ID), slog.String("url", site.URL))
	writeJSON(w, http.StatusOK, site)
}

func (s *server) handleDeleteWebsite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.DeleteWebsite(ctx, id); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

type scanStarted struct {
	Status    string `json:"status"`
	Website   string `json:"website"`
	RequestID string `json:"request_id"`
}

func (s *server) handleScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ScanTimeout)
	defer cancel()

	site, err := s.store.GetWebsite(ctx, id)
	if errors.Is(err, elasticsearch.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Website not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	requestID, err := s.scanner.Trigger(ctx, site)
	s.metrics.ScanTriggered(err == nil)
	if err != nil {
		s.log.Error("trigger scan", slog.String("website_id", id), slog.Any("err", err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	s.log.Info("scan started", slog.String("website", site.Name), slog.String("request_id", requestID))
	writeJSON(w, http.StatusAccepted, scanStarted{Status: "Scan started", Website: site.Name, RequestID: requestID})
}

type batchItem struct {
	WebsiteID string `json:"website_id"`
	Website   string `json:"website"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type batchResponse struct {
	Started int         `json:"started"`
	Failed  int         `json:"failed"`
	Results []batchItem `json:"results"`
}

func (s *server) handleScanAll(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.ListWebsites(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	results := scan.Batch(r.Context(), sites, scan.Options{
		Concurrency: s.cfg.ScanConcurrency,
		Timeout:     s.cfg.ScanTimeout,
	}, s.scanner)

	resp := batchResponse{Results: make([]batchItem, 0, len(results))}
	for _, res := range results {
		s.metrics.ScanTriggered(res.OK())
		item := batchItem{WebsiteID: res.Website.ID, Website: res.Website.Name, RequestID: res.RequestID}
		if res.Err != nil {
			item.Error = res.Err.Error()
			s.log.Warn("batch scan trigger failed", slog.String("website_id", res.Website.ID), slog.Any("err", res.Err))
		}
		resp.Results = append(resp.Results, item)
	}
	resp.Started, resp.Failed = scan.Summary(results)

	writeJSON(w, http.StatusAccepted, resp)
}

func (s *server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	prompts, err := s.store.ListPrompts(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, prompts)
}

func (s *server) handleSavePrompt(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name is required"})
		return
	}

	var prompt models.Prompt
	if err := json.NewDecoder(r.Body).Decode(&prompt); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(prompt.Template) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "template is required"})
		return
	}
	prompt.Name = name
	prompt.UpdatedAt = s.now().UTC()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.SavePrompt(ctx, prompt); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

// parseFacets accepts both facets=a,b and repeated facet=a&facet=b.
func parseFacets(q url.Values) []string {
	out := parseCSV(q.Get("facets"))
	for _, v := range q["facet"] {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value < 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
