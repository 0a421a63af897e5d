package feed

import "github.com/DeafMist/sec-intel-radar/backend/internal/models"

// DefaultHighlightCount is the size of the "latest intelligence" strip.
const DefaultHighlightCount = 5

// SelectHighlights picks at most k events, one per source domain first, then
// fills the remaining slots from the input in order. The result is sorted
// newest first.
//
// The representative of a domain is the first event of that domain in input
// order, so callers are expected to pass events already sorted by recency.
func SelectHighlights(events []models.Event, k int) []models.Event {
	if k <= 0 || len(events) == 0 {
		return []models.Event{}
	}

	seenDomain := make(map[string]struct{})
	used := make(map[string]struct{})
	picked := make([]models.Event, 0, k)

	for _, ev := range events {
		domain := SourceDomain(ev.URL)
		if _, ok := seenDomain[domain]; ok {
			continue
		}
		if _, ok := used[ev.ID]; ok {
			continue
		}
		seenDomain[domain] = struct{}{}
		used[ev.ID] = struct{}{}
		picked = append(picked, ev)
	}
	SortByRecency(picked)

	if len(picked) < k {
		for _, ev := range events {
			if len(picked) >= k {
				break
			}
			if _, ok := used[ev.ID]; ok {
				continue
			}
			used[ev.ID] = struct{}{}
			picked = append(picked, ev)
		}
		SortByRecency(picked)
	}

	if len(picked) > k {
		picked = picked[:k]
	}
	return picked
}
