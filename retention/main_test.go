package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/sec-intel-radar/backend/internal/config"
	"github.com/DeafMist/sec-intel-radar/backend/internal/logger"
)

type stubPruner struct {
	maxAge    time.Duration
	batchSize int
	deleted   int64
	err       error
}

func (s *stubPruner) DeleteOlderThan(_ context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	s.maxAge = maxAge
	s.batchSize = batchSize
	return s.deleted, s.err
}

func TestRunOncePassesRetentionSettings(t *testing.T) {
	cfg := &config.Retention{MaxAge: 90 * 24 * time.Hour, BatchSize: 250}

	pruner := &stubPruner{deleted: 3}
	runOnce(context.Background(), logger.Discard(), pruner, cfg)
	require.Equal(t, cfg.MaxAge, pruner.maxAge)
	require.Equal(t, 250, pruner.batchSize)

	failing := &stubPruner{err: errors.New("es down")}
	require.NotPanics(t, func() { runOnce(context.Background(), logger.Discard(), failing, cfg) })
}

func TestParseSchedule(t *testing.T) {
	from := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		expr string
		next time.Time
	}{
		{expr: "30 3 * * *", next: time.Date(2024, 6, 2, 3, 30, 0, 0, time.UTC)},
		{expr: "0 */6 * * *", next: time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)},
		{expr: "@hourly", next: time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			schedule, err := parseSchedule(tc.expr)
			require.NoError(t, err)
			require.Equal(t, tc.next, schedule.Next(from))
		})
	}
}

func TestParseScheduleRejectsDurations(t *testing.T) {
	for _, expr := range []string{"24h", "* * *", "61 * * * *"} {
		_, err := parseSchedule(expr)
		require.ErrorContains(t, err, "RETENTION_CRON", expr)
	}
}

func TestWaitNextStopsOnCancel(t *testing.T) {
	schedule, err := parseSchedule("@yearly")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, waitNext(ctx, schedule, time.Now))
}

func TestWaitNextFiresWhenDue(t *testing.T) {
	schedule, err := parseSchedule("* * * * *")
	require.NoError(t, err)

	// A clock one millisecond before the minute boundary makes the next run due almost immediately.
	fixed := time.Date(2024, 6, 1, 12, 0, 59, 999_000_000, time.UTC)
	require.True(t, waitNext(context.Background(), schedule, func() time.Time { return fixed }))
}
