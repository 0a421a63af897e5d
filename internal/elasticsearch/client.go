package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// Indices names the three indices the radar keeps.
type Indices struct {
	Events   string
	Websites string
	Prompts  string
}

// Client wraps go-elasticsearch with helpers tailored to this project.
type Client struct {
	es      *elasticsearch.Client
	indices Indices
	log     *slog.Logger
}

// New instantiates the Elasticsearch client.
func New(addr string, indices Indices, logger *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{es: es, indices: indices, log: logger}, nil
}

// Health checks cluster health.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

var mappings = map[string]map[string]any{
	"events": {
		"properties": map[string]any{
			"id":                  map[string]any{"type": "keyword"},
			"title":               map[string]any{"type": "text"},
			"url":                 map[string]any{"type": "keyword"},
			"source_website_id":   map[string]any{"type": "keyword"},
			"published_at":        map[string]any{"type": "date"},
			"scanned_at":          map[string]any{"type": "date"},
			"raw_content_snippet": map[string]any{"type": "text", "index": false},
			"analysis": map[string]any{
				"properties": map[string]any{
					"summary":             map[string]any{"type": "text"},
					"technical_details":   map[string]any{"type": "text"},
					"impact_level":        map[string]any{"type": "keyword"},
					"attack_vectors":      map[string]any{"type": "keyword"},
					"vulnerabilities":     map[string]any{"type": "keyword"},
					"affected_components": map[string]any{"type": "keyword"},
					"published_date":      map[string]any{"type": "keyword"},
				},
			},
		},
	},
	"websites": {
		"properties": map[string]any{
			"id":              map[string]any{"type": "keyword"},
			"name":            map[string]any{"type": "keyword"},
			"url":             map[string]any{"type": "keyword"},
			"description":     map[string]any{"type": "text"},
			"last_scraped_at": map[string]any{"type": "date"},
		},
	},
	"prompts": {
		"properties": map[string]any{
			"name":        map[string]any{"type": "keyword"},
			"description": map[string]any{"type": "text"},
			"template":    map[string]any{"type": "text", "index": false},
			"updated_at":  map[string]any{"type": "date"},
		},
	},
}

// EnsureIndices creates any missing index with its mapping.
func (c *Client) EnsureIndices(ctx context.Context) error {
	for kind, index := range map[string]string{
		"events":   c.indices.Events,
		"websites": c.indices.Websites,
		"prompts":  c.indices.Prompts,
	} {
		if err := c.ensureIndex(ctx, index, mappings[kind]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) ensureIndex(ctx context.Context, index string, mapping map[string]any) error {
	res, err := c.es.Indices.Exists([]string{index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	payload, err := json.Marshal(map[string]any{"mappings": mapping})
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}

	res, err = c.es.Indices.Create(index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		// Another replica may have won the race.
		if strings.Contains(string(data), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index %s failed: %s", index, strings.TrimSpace(string(data)))
	}

	c.log.Info("created index", slog.String("index", index))
	return nil
}

func (c *Client) put(ctx context.Context, index, id string, doc any, refresh string) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(payload),
		Refresh:    refresh,
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index doc: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index doc failed: %s", strings.TrimSpace(string(body)))
	}

	return nil
}

func (c *Client) get(ctx context.Context, index, id string, out any) error {
	res, err := c.es.Get(index, id, c.es.Get.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("get doc: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("get doc failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode get response: %w", err)
	}
	if !parsed.Found {
		return ErrNotFound
	}
	if err := json.Unmarshal(parsed.Source, out); err != nil {
		return fmt.Errorf("decode source: %w", err)
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations json.RawMessage `json:"aggregations"`
}

func (c *Client) search(ctx context.Context, index string, body map[string]any) (*searchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &parsed, nil
}

func decodeHits[T any](res *searchResponse) ([]T, error) {
	items := make([]T, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		var item T
		if err := json.Unmarshal(hit.Source, &item); err != nil {
			return nil, fmt.Errorf("decode hit: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}
