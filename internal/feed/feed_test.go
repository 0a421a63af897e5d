package feed_test

import (
	"fmt"
	"time"

	"github.com/DeafMist/sec-intel-radar/backend/internal/models"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func at(hoursAgo int) *time.Time {
	ts := base.Add(-time.Duration(hoursAgo) * time.Hour)
	return &ts
}

func event(id, rawURL string, published *time.Time) models.Event {
	return models.Event{
		ID:          id,
		Title:       fmt.Sprintf("event %s", id),
		URL:         rawURL,
		PublishedAt: published,
		ScannedAt:   base,
	}
}

func ids(events []models.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}
