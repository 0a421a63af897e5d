package elasticsearch

import (
	"context"

	"github.com/DeafMist/sec-intel-radar/backend/internal/models"
)

// ListPrompts returns all prompt templates ordered by name.
func (c *Client) ListPrompts(ctx context.Context) ([]models.Prompt, error) {
	body := map[string]any{
		"size":  1000,
		"query": map[string]any{"match_all": map[string]any{}},
		"sort":  []map[string]any{{"name": map[string]any{"order": "asc"}}},
	}

	res, err := c.search(ctx, c.indices.Prompts, body)
	if err != nil {
		return nil, err
	}
	return decodeHits[models.Prompt](res)
}

// SavePrompt creates or replaces the prompt stored under p.Name.
func (c *Client) SavePrompt(ctx context.Context, p models.Prompt) error {
	return c.put(ctx, c.indices.Prompts, p.Name, p, "wait_for")
}
