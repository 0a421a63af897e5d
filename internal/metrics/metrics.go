package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors exported by the radar services.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	snapshotErrors  prometheus.Counter
	snapshotSize    prometheus.Gauge
	snapshotAge     prometheus.Gauge
	eventsProcessed *prometheus.CounterVec
	scanTriggers    *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New(service string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	constLabels := prometheus.Labels{"service": service}

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "radar",
		Name:        "http_requests_total",
		Help:        "HTTP requests by route pattern and status code",
		ConstLabels: constLabels,
	}, []string{"route", "method", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   "radar",
		Name:        "http_request_duration_seconds",
		Help:        "HTTP request latency by route pattern",
		ConstLabels: constLabels,
		Buckets:     prometheus.DefBuckets,
	}, []string{"route"})
	m.snapshotErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "radar",
		Name:        "snapshot_refresh_failures_total",
		Help:        "Failed attempts to refresh the event snapshot",
		ConstLabels: constLabels,
	})
	m.snapshotSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "radar",
		Name:        "snapshot_events",
		Help:        "Number of events in the current snapshot",
		ConstLabels: constLabels,
	})
	m.snapshotAge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "radar",
		Name:        "snapshot_last_success_timestamp_seconds",
		Help:        "Unix time of the last successful snapshot refresh",
		ConstLabels: constLabels,
	})
	m.eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "radar",
		Name:        "worker_events_total",
		Help:        "Events handled by the worker by outcome (indexed, duplicate, failed)",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	m.scanTriggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "radar",
		Name:        "scan_triggers_total",
		Help:        "Scan requests submitted by outcome (ok, failed)",
		ConstLabels: constLabels,
	}, []string{"outcome"})

	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.snapshotErrors,
		m.snapshotSize,
		m.snapshotAge,
		m.eventsProcessed,
		m.scanTriggers,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency keyed by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// SnapshotRefreshed records a successful refresh with n events.
func (m *Metrics) SnapshotRefreshed(n int, at time.Time) {
	m.snapshotSize.Set(float64(n))
	m.snapshotAge.Set(float64(at.Unix()))
}

// SnapshotFailed records a failed refresh.
func (m *Metrics) SnapshotFailed() {
	m.snapshotErrors.Inc()
}

// EventProcessed counts a worker outcome.
func (m *Metrics) EventProcessed(outcome string) {
	m.eventsProcessed.WithLabelValues(outcome).Inc()
}

// ScanTriggered counts a scan trigger outcome.
func (m *Metrics) ScanTriggered(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.scanTriggers.WithLabelValues(outcome).Inc()
}

// Serve exposes the registry on addr until ctx is done. Used by the
// background services that have no HTTP API of their own.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}
