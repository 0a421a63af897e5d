package feed

import (
	"strings"

	"github.com/DeafMist/sec-intel-radar/backend/internal/models"
)

// FacetSet is the set of facet values currently selected by the operator.
// Values from different fields share one namespace.
type FacetSet map[string]struct{}

// NewFacetSet builds a FacetSet, ignoring empty values.
func NewFacetSet(values ...string) FacetSet {
	set := make(FacetSet, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// Has reports whether value is selected.
func (s FacetSet) Has(value string) bool {
	_, ok := s[value]
	return ok
}

// Matches reports whether ev passes the free-text search and the facet
// selection. The text test is a case-insensitive substring match against the
// title and summary. Selected facets are OR-ed: one shared tag is enough.
func Matches(ev models.Event, search string, selected FacetSet) bool {
	if !matchesText(ev, strings.ToLower(search)) {
		return false
	}
	if len(selected) == 0 {
		return true
	}
	return matchesFacets(ev, selected)
}

// Filter keeps the events that satisfy Matches, preserving input order.
func Filter(events []models.Event, search string, selected FacetSet) []models.Event {
	out := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if Matches(ev, search, selected) {
			out = append(out, ev)
		}
	}
	return out
}

func matchesText(ev models.Event, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(ev.Title), needle) ||
		strings.Contains(strings.ToLower(ev.Analysis.Summary), needle)
}

func matchesFacets(ev models.Event, selected FacetSet) bool {
	if ev.Analysis.ImpactLevel != "" && selected.Has(ev.Analysis.ImpactLevel) {
		return true
	}
	for _, v := range ev.Analysis.AttackVectors {
		if v != "" && selected.Has(v) {
			return true
		}
	}
	for _, v := range ev.Analysis.Vulnerabilities {
		if v != "" && selected.Has(v) {
			return true
		}
	}
	return false
}
