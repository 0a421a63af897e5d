package feed

import (
	"sort"
	"time"

	"github.com/DeafMist/sec-intel-radar/backend/internal/models"
)

// recencyKey orders events by publication time. Events without published_at
// sort as the oldest possible instant.
func recencyKey(ev models.Event) time.Time {
	if ev.PublishedAt == nil {
		return time.Time{}
	}
	return *ev.PublishedAt
}

// SortByRecency orders events newest first in place. Equal timestamps keep
// their relative input order.
func SortByRecency(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return recencyKey(events[i]).After(recencyKey(events[j]))
	})
}
