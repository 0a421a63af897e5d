package models

import "time"

// Analysis is the AI-produced breakdown attached to every event.
type Analysis struct {
	Summary            string   `json:"summary"`
	AttackVectors      []string `json:"attack_vectors,omitempty"`
	Vulnerabilities    []string `json:"vulnerabilities,omitempty"`
	AffectedComponents []string `json:"affected_components,omitempty"`
	ImpactLevel        string   `json:"impact_level,omitempty"`
	TechnicalDetails   string   `json:"technical_details"`
	PublishedDate      string   `json:"published_date,omitempty"`
}

// Event represents one analyzed security item stored in Elasticsearch.
type Event struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	URL               string     `json:"url"`
	SourceWebsiteID   string     `json:"source_website_id,omitempty"`
	PublishedAt       *time.Time `json:"published_at,omitempty"`
	ScannedAt         time.Time  `json:"scanned_at"`
	Analysis          Analysis   `json:"analysis"`
	RawContentSnippet string     `json:"raw_content_snippet,omitempty"`
}

// DisplayTime is the timestamp shown to operators: the publication date when
// known, the scan time otherwise.
func (e Event) DisplayTime() time.Time {
	if e.PublishedAt != nil && !e.PublishedAt.IsZero() {
		return *e.PublishedAt
	}
	return e.ScannedAt
}
