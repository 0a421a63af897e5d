package models

import "time"

// Website is a monitored intelligence source.
type Website struct {
	ID            string     `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	URL           string     `json:"url" yaml:"url"`
	Description   string     `json:"description,omitempty" yaml:"description"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty" yaml:"-"`
	EventCount    int64      `json:"event_count" yaml:"-"`
}

// Prompt is a named template handed to the analysis pipeline.
type Prompt struct {
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Template    string    `json:"template" yaml:"template"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

// ScanRequest asks the external scraping pipeline to scan one website.
type ScanRequest struct {
	ID          string    `json:"id"`
	WebsiteID   string    `json:"website_id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	RequestedAt time.Time `json:"requested_at"`
}
