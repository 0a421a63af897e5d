package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DeafMist/sec-intel-radar/backend/internal/models"
)

// ListWebsites returns every configured source ordered by name.
func (c *Client) ListWebsites(ctx context.Context) ([]models.Website, error) {
	body := map[string]any{
		"size":  10_000,
		"query": map[string]any{"match_all": map[string]any{}},
		"sort":  []map[string]any{{"name": map[string]any{"order": "asc"}}},
	}

	res, err := c.search(ctx, c.indices.Websites, body)
	if err != nil {
		return nil, err
	}
	return decodeHits[models.Website](res)
}

// GetWebsite loads one source by id.
func (c *Client) GetWebsite(ctx context.Context, id string) (models.Website, error) {
	var w models.Website
	if err := c.get(ctx, c.indices.Websites, id, &w); err != nil {
		return models.Website{}, err
	}
	return w, nil
}

// SaveWebsite creates or replaces a source. The event count is derived on
// read and never stored.
func (c *Client) SaveWebsite(ctx context.Context, w models.Website) error {
	w.EventCount = 0
	return c.put(ctx, c.indices.Websites, w.ID, w, "wait_for")
}

// DeleteWebsite removes a source. Deleting a missing source is not an error.
func (c *Client) DeleteWebsite(ctx context.Context, id string) error {
	res, err := c.es.Delete(c.indices.Websites, id,
		c.es.Delete.WithContext(ctx),
		c.es.Delete.WithRefresh("wait_for"),
	)
	if err != nil {
		return fmt.Errorf("delete website: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("delete website failed: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

// TouchWebsite records when a source was last scraped.
func (c *Client) TouchWebsite(ctx context.Context, id string, at time.Time) error {
	payload, err := json.Marshal(map[string]any{
		"doc": map[string]any{"last_scraped_at": at.UTC().Format(time.RFC3339)},
	})
	if err != nil {
		return fmt.Errorf("marshal update body: %w", err)
	}

	res, err := c.es.Update(c.indices.Websites, id, bytes.NewReader(payload),
		c.es.Update.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("update website: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("update website failed: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

// IsNotFound reports whether err means the document was missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
