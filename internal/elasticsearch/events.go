package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DeafMist/sec-intel-radar/backend/internal/models"
)

// IndexEvent writes an event into the events index.
func (c *Client) IndexEvent(ctx context.Context, ev models.Event) error {
	return c.put(ctx, c.indices.Events, ev.ID, ev, "false")
}

// EventExists reports whether an event with the given id is stored.
func (c *Client) EventExists(ctx context.Context, id string) (bool, error) {
	res, err := c.es.Exists(c.indices.Events, id, c.es.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("exists failed: %s", res.Status())
	}
}

// ListEvents returns up to size events, newest publication first. Events
// without published_at come last, ordered by scan time.
func (c *Client) ListEvents(ctx context.Context, size int) ([]models.Event, error) {
	if size <= 0 {
		size = 1000
	}
	if size > 10_000 {
		size = 10_000
	}

	body := map[string]any{
		"size": size,
		"query": map[string]any{
			"match_all": map[string]any{},
		},
		"sort": []map[string]any{
			{"published_at": map[string]any{"order": "desc", "missing": "_last"}},
			{"scanned_at": map[string]any{"order": "desc"}},
		},
	}

	res, err := c.search(ctx, c.indices.Events, body)
	if err != nil {
		return nil, err
	}
	return decodeHits[models.Event](res)
}

// CountEventsBySource returns the number of stored events per source website id.
func (c *Client) CountEventsBySource(ctx context.Context) (map[string]int64, error) {
	body := map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"by_source": map[string]any{
				"terms": map[string]any{
					"field": "source_website_id",
					"size":  10_000,
				},
			},
		},
	}

	res, err := c.search(ctx, c.indices.Events, body)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	if len(res.Aggregations) == 0 {
		return counts, nil
	}

	var aggs struct {
		BySource struct {
			Buckets []struct {
				Key      string `json:"key"`
				DocCount int64  `json:"doc_count"`
			} `json:"buckets"`
		} `json:"by_source"`
	}
	if err := json.Unmarshal(res.Aggregations, &aggs); err != nil {
		return nil, fmt.Errorf("decode aggregations: %w", err)
	}
	for _, b := range aggs.BySource.Buckets {
		counts[b.Key] = b.DocCount
	}
	return counts, nil
}

// DeleteOlderThan removes events scanned before now-maxAge using batched delete-by-query.
// It loops until a batch returns fewer deleted documents than the requested batchSize.
func (c *Client) DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	totalDeleted := int64(0)

	for {
		body := map[string]any{
			"max_docs": batchSize,
			"query": map[string]any{
				"range": map[string]any{
					"scanned_at": map[string]any{
						"lte": cutoff,
					},
				},
			},
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return totalDeleted, fmt.Errorf("marshal delete body: %w", err)
		}

		res, err := c.es.DeleteByQuery(
			[]string{c.indices.Events},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithRefresh(true),
		)
		if err != nil {
			return totalDeleted, fmt.Errorf("delete by query: %w", err)
		}

		if res.IsError() {
			data, _ := io.ReadAll(res.Body)
			res.Body.Close()
			return totalDeleted, fmt.Errorf("delete by query failed: %s", strings.TrimSpace(string(data)))
		}

		var parsed struct {
			Deleted int64 `json:"deleted"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			res.Body.Close()
			return totalDeleted, fmt.Errorf("decode delete response: %w", err)
		}
		res.Body.Close()

		totalDeleted += parsed.Deleted

		if parsed.Deleted < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}
