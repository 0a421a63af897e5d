package feed

import (
	"sort"

	"github.com/DeafMist/sec-intel-radar/backend/internal/models"
)

// MaxFacetValues caps the attack vector and vulnerability chip lists. The cut
// is alphabetical, not by frequency.
const MaxFacetValues = 10

// FacetIndex lists the distinct filter values present in a collection.
type FacetIndex struct {
	Impact  []string `json:"impact"`
	Vectors []string `json:"vectors"`
	Vulns   []string `json:"vulns"`
}

// BuildFacetIndex collects distinct impact levels, attack vectors and
// vulnerabilities from events. Every list is sorted lexicographically.
func BuildFacetIndex(events []models.Event) FacetIndex {
	impact := make(map[string]struct{})
	vectors := make(map[string]struct{})
	vulns := make(map[string]struct{})

	for _, ev := range events {
		addValue(impact, ev.Analysis.ImpactLevel)
		for _, v := range ev.Analysis.AttackVectors {
			addValue(vectors, v)
		}
		for _, v := range ev.Analysis.Vulnerabilities {
			addValue(vulns, v)
		}
	}

	return FacetIndex{
		Impact:  sortedKeys(impact, 0),
		Vectors: sortedKeys(vectors, MaxFacetValues),
		Vulns:   sortedKeys(vulns, MaxFacetValues),
	}
}

func addValue(set map[string]struct{}, value string) {
	if value == "" {
		return
	}
	set[value] = struct{}{}
}

func sortedKeys(set map[string]struct{}, limit int) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
