package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/sec-intel-radar/backend/internal/config"
	"github.com/DeafMist/sec-intel-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/sec-intel-radar/backend/internal/feed"
	"github.com/DeafMist/sec-intel-radar/backend/internal/logger"
	"github.com/DeafMist/sec-intel-radar/backend/internal/metrics"
	"github.com/DeafMist/sec-intel-radar/backend/internal/models"
	"github.com/DeafMist/sec-intel-radar/backend/internal/scan"
)

type stubStore struct {
	mu        sync.Mutex
	events    []models.Event
	eventsErr error
	websites  map[string]models.Website
	order     []string
	counts    map[string]int64
	prompts   map[string]models.Prompt
	healthErr error
}

func newStubStore() *stubStore {
	return &stubStore{
		websites: map[string]models.Website{},
		counts:   map[string]int64{},
		prompts:  map[string]models.Prompt{},
	}
}

func (s *stubStore) Health(context.Context) error { return s.healthErr }

func (s *stubStore) ListEvents(_ context.Context, size int) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsErr != nil {
		return nil, s.eventsErr
	}
	out := append([]models.Event(nil), s.events...)
	if len(out) > size {
		out = out[:size]
	}
	return out, nil
}

func (s *stubStore) CountEventsBySource(context.Context) (map[string]int64, error) {
	return s.counts, nil
}

func (s *stubStore) ListWebsites(context.Context) ([]models.Website, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Website, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.websites[id])
	}
	return out, nil
}

func (s *stubStore) GetWebsite(_ context.Context, id string) (models.Website, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.websites[id]
	if !ok {
		return models.Website{}, elasticsearch.ErrNotFound
	}
	return w, nil
}

func (s *stubStore) SaveWebsite(_ context.Context, w models.Website) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.websites[w.ID]; !ok {
		s.order = append(s.order, w.ID)
	}
	s.websites[w.ID] = w
	return nil
}

func (s *stubStore) DeleteWebsite(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.websites, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *stubStore) ListPrompts(context.Context) ([]models.Prompt, error) {
	out := make([]models.Prompt, 0, len(s.prompts))
	for _, p := range s.prompts {
		out = append(out, p)
	}
	return out, nil
}

func (s *stubStore) SavePrompt(_ context.Context, p models.Prompt) error {
	s.prompts[p.Name] = p
	return nil
}

func ts(hoursAgo int) *time.Time {
	t := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Add(-time.Duration(hoursAgo) * time.Hour)
	return &t
}

func testServer(t *testing.T, st *stubStore, trigger scan.Trigger) http.Handler {
	t.Helper()
	if trigger == nil {
		trigger = scan.TriggerFunc(func(_ context.Context, site models.Website) (string, error) {
			return "req-" + site.ID, nil
		})
	}
	cfg := &config.API{
		HighlightCount:  2,
		SnapshotSize:    100,
		RefreshTimeout:  time.Second,
		ScanConcurrency: 2,
		ScanTimeout:     time.Second,
	}
	srv := newServer(logger.Discard(), cfg, st, trigger, metrics.New("api-test"))
	srv.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return srv.routes()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func eventIDs(events []models.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}

func sampleStore() *stubStore {
	st := newStubStore()
	st.events = []models.Event{
		{ID: "old", Title: "Old jailbreak", URL: "https://a.com/1", PublishedAt: ts(10),
			Analysis: models.Analysis{AttackVectors: []string{"jailbreak"}, ImpactLevel: "Low"}},
		{ID: "new", Title: "Prompt injection in agents", URL: "https://b.com/1", PublishedAt: ts(1),
			Analysis: models.Analysis{AttackVectors: []string{"prompt injection"}, ImpactLevel: "High"}},
		{ID: "mid", Title: "Model theft", URL: "https://a.com/2", PublishedAt: ts(5),
			Analysis: models.Analysis{Summary: "weights exfiltrated", Vulnerabilities: []string{"CVE-1"}, ImpactLevel: "High"}},
		{ID: "undated", Title: "Undated note", URL: "https://c.com/1", ScannedAt: *ts(2)},
	}
	return st
}

func TestHealth(t *testing.T) {
	st := newStubStore()
	h := testServer(t, st, nil)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)

	st.healthErr = errors.New("red")
	require.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/health", "").Code)
}

func TestEventsSortedByRecency(t *testing.T) {
	h := testServer(t, sampleStore(), nil)

	rec := do(t, h, http.MethodGet, "/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get(staleHeader))
	require.Equal(t, []string{"new", "mid", "old", "undated"}, eventIDs(decode[[]models.Event](t, rec)))
}

func TestEventsCarryDisplayTime(t *testing.T) {
	h := testServer(t, sampleStore(), nil)

	got := decode[[]eventView](t, do(t, h, http.MethodGet, "/events", ""))
	require.Len(t, got, 4)
	require.Equal(t, "new", got[0].ID)
	require.Equal(t, *ts(1), got[0].DisplayTime)
	require.Equal(t, "undated", got[3].ID)
	require.Equal(t, *ts(2), got[3].DisplayTime)

	latest := decode[[]eventView](t, do(t, h, http.MethodGet, "/events/latest?k=3", ""))
	require.Equal(t, *ts(2), latest[2].DisplayTime)
}

func TestEventsSearchAndFacets(t *testing.T) {
	h := testServer(t, sampleStore(), nil)

	rec := do(t, h, http.MethodGet, "/events?q=WEIGHTS", "")
	require.Equal(t, []string{"mid"}, eventIDs(decode[[]models.Event](t, rec)))

	rec = do(t, h, http.MethodGet, "/events?facets=jailbreak,CVE-1", "")
	require.Equal(t, []string{"mid", "old"}, eventIDs(decode[[]models.Event](t, rec)))

	rec = do(t, h, http.MethodGet, "/events?facet=High&q=prompt", "")
	require.Equal(t, []string{"new"}, eventIDs(decode[[]models.Event](t, rec)))

	rec = do(t, h, http.MethodGet, "/events?q=nothing-matches", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decode[[]models.Event](t, rec))
}

func TestLatestUsesDomainDiversity(t *testing.T) {
	h := testServer(t, sampleStore(), nil)

	rec := do(t, h, http.MethodGet, "/events/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"new", "mid"}, eventIDs(decode[[]models.Event](t, rec)))

	rec = do(t, h, http.MethodGet, "/events/latest?k=3", "")
	require.Equal(t, []string{"new", "mid", "undated"}, eventIDs(decode[[]models.Event](t, rec)))

	rec = do(t, h, http.MethodGet, "/events/latest?k=0", "")
	require.Equal(t, "[]\n", rec.Body.String())
}

func TestFacets(t *testing.T) {
	h := testServer(t, sampleStore(), nil)

	rec := do(t, h, http.MethodGet, "/events/facets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[feed.FacetIndex](t, rec)
	require.Equal(t, []string{"High", "Low"}, got.Impact)
	require.Equal(t, []string{"jailbreak", "prompt injection"}, got.Vectors)
	require.Equal(t, []string{"CVE-1"}, got.Vulns)
}

func TestEventsServeStaleSnapshotOnFailure(t *testing.T) {
	st := sampleStore()
	h := testServer(t, st, nil)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/events", "").Code)

	st.mu.Lock()
	st.eventsErr = errors.New("es unavailable")
	st.mu.Unlock()

	rec := do(t, h, http.MethodGet, "/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "true", rec.Header().Get(staleHeader))
	require.Len(t, decode[[]models.Event](t, rec), 4)
}

func TestEventsUnavailableWithoutSnapshot(t *testing.T) {
	st := newStubStore()
	st.eventsErr = errors.New("es unavailable")
	h := testServer(t, st, nil)

	rec := do(t, h, http.MethodGet, "/events/latest", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, decode[errorResponse](t, rec).Error, "no previous snapshot")
}

func TestWebsitesLifecycle(t *testing.T) {
	st := newStubStore()
	h := testServer(t, st, nil)

	rec := do(t, h, http.MethodPost, "/websites", `{"name":" HiddenLayer ","url":"https://hiddenlayer.com/research/"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	created := decode[models.Website](t, rec)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "HiddenLayer", created.Name)

	st.counts[created.ID] = 7
	rec = do(t, h, http.MethodGet, "/websites", "")
	sites := decode[[]models.Website](t, rec)
	require.Len(t, sites, 1)
	require.EqualValues(t, 7, sites[0].EventCount)

	rec = do(t, h, http.MethodDelete, "/websites/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, st.websites)
}

func TestAddWebsiteNeverReusesClientID(t *testing.T) {
	st := newStubStore()
	existing := models.Website{ID: "w1", Name: "Wiz", URL: "https://wiz.io/blog"}
	require.NoError(t, st.SaveWebsite(context.Background(), existing))
	h := testServer(t, st, nil)

	rec := do(t, h, http.MethodPost, "/websites", `{"id":"w1","name":"Impostor","url":"https://evil.example"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	created := decode[models.Website](t, rec)
	require.NotEqual(t, "w1", created.ID)

	require.Equal(t, existing, st.websites["w1"])
	require.Len(t, st.websites, 2)
}

func TestAddWebsiteValidation(t *testing.T) {
	h := testServer(t, newStubStore(), nil)

	cases := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{`},
		{name: "missing name", body: `{"url":"https://x.com"}`},
		{name: "relative url", body: `{"name":"x","url":"/blog"}`},
		{name: "unsupported scheme", body: `{"name":"x","url":"ftp://x.com"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/websites", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestScanWebsite(t *testing.T) {
	st := newStubStore()
	require.NoError(t, st.SaveWebsite(context.Background(), models.Website{ID: "w1", Name: "Wiz", URL: "https://wiz.io/blog"}))
	h := testServer(t, st, nil)

	rec := do(t, h, http.MethodPost, "/scan/w1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	got := decode[scanStarted](t, rec)
	require.Equal(t, "Scan started", got.Status)
	require.Equal(t, "Wiz", got.Website)
	require.Equal(t, "req-w1", got.RequestID)

	rec = do(t, h, http.MethodPost, "/scan/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Website not found", decode[errorResponse](t, rec).Error)
}

func TestScanWebsiteTriggerFailure(t *testing.T) {
	st := newStubStore()
	require.NoError(t, st.SaveWebsite(context.Background(), models.Website{ID: "w1", Name: "Wiz"}))
	h := testServer(t, st, scan.TriggerFunc(func(context.Context, models.Website) (string, error) {
		return "", errors.New("broker down")
	}))

	rec := do(t, h, http.MethodPost, "/scan/w1", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestScanAllReportsPerWebsiteResults(t *testing.T) {
	st := newStubStore()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.SaveWebsite(context.Background(), models.Website{ID: id, Name: strings.ToUpper(id)}))
	}
	h := testServer(t, st, scan.TriggerFunc(func(_ context.Context, site models.Website) (string, error) {
		if site.ID == "b" {
			return "", errors.New("broker down")
		}
		return "req-" + site.ID, nil
	}))

	rec := do(t, h, http.MethodPost, "/scan", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	got := decode[batchResponse](t, rec)
	require.Equal(t, 2, got.Started)
	require.Equal(t, 1, got.Failed)
	require.Len(t, got.Results, 3)
	require.Equal(t, "a", got.Results[0].WebsiteID)
	require.Equal(t, "broker down", got.Results[1].Error)
	require.Equal(t, "req-c", got.Results[2].RequestID)
}

func TestPrompts(t *testing.T) {
	st := newStubStore()
	h := testServer(t, st, nil)

	rec := do(t, h, http.MethodPost, "/prompts/analysis", `{"template":"Analyze {content}","description":"default"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	saved := decode[models.Prompt](t, rec)
	require.Equal(t, "analysis", saved.Name)
	require.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), saved.UpdatedAt)

	rec = do(t, h, http.MethodPost, "/prompts/analysis", `{"template":"  "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/prompts", "")
	require.Len(t, decode[[]models.Prompt](t, rec), 1)
}

func TestMetricsEndpoint(t *testing.T) {
	h := testServer(t, sampleStore(), nil)
	do(t, h, http.MethodGet, "/events", "")

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "radar_snapshot_events")
}

func TestParseCSV(t *testing.T) {
	require.Nil(t, parseCSV(""))
	require.Equal(t, []string{"a", "b"}, parseCSV(" a, ,b ,"))
}

func TestClampInt(t *testing.T) {
	require.Equal(t, 5, clampInt("", 5, 50))
	require.Equal(t, 5, clampInt("abc", 5, 50))
	require.Equal(t, 5, clampInt("-1", 5, 50))
	require.Equal(t, 0, clampInt("0", 5, 50))
	require.Equal(t, 50, clampInt("500", 5, 50))
}
