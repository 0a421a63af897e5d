package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/DeafMist/sec-intel-radar/backend/internal/feed"
	"github.com/DeafMist/sec-intel-radar/backend/internal/metrics"
	"github.com/DeafMist/sec-intel-radar/backend/internal/models"
)

var errNoSnapshot = errors.New("events unavailable and no previous snapshot")

type eventSource interface {
	ListEvents(ctx context.Context, size int) ([]models.Event, error)
}

// snapshot holds the last good event collection. A failed refresh keeps the
// previous collection in place and reports it as stale.
type snapshot struct {
	src     eventSource
	size    int
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.RWMutex
	events    []models.Event
	fetchedAt time.Time // start of the fetch that produced events
	loaded    bool
}

func newSnapshot(src eventSource, size int, timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *snapshot {
	return &snapshot{src: src, size: size, timeout: timeout, log: log, metrics: m, now: time.Now}
}

// Load refreshes from the store and returns the events to present. The
// returned slice is shared and must not be modified. When refreshes overlap,
// the one started last wins.
func (s *snapshot) Load(ctx context.Context) (events []models.Event, stale bool, err error) {
	started := s.now()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	fresh, err := s.src.ListEvents(ctx, s.size)
	if err != nil {
		s.metrics.SnapshotFailed()
		s.mu.RLock()
		defer s.mu.RUnlock()
		if !s.loaded {
			s.log.Error("load events", slog.Any("err", err))
			return nil, false, errNoSnapshot
		}
		s.log.Warn("load events failed, serving previous snapshot",
			slog.Any("err", err),
			slog.Time("fetched_at", s.fetchedAt),
			slog.Int("events", len(s.events)),
		)
		return s.events, true, nil
	}

	feed.SortByRecency(fresh)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded && started.Before(s.fetchedAt) {
		return s.events, false, nil
	}
	s.events = fresh
	s.fetchedAt = started
	s.loaded = true

	s.metrics.SnapshotRefreshed(len(fresh), started)
	return fresh, false, nil
}
