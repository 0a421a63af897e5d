package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/DeafMist/sec-intel-radar/backend/internal/models"
)

// seedFile lists the sources and prompts installed on an empty deployment.
type seedFile struct {
	Websites []models.Website `yaml:"websites"`
	Prompts  []models.Prompt  `yaml:"prompts"`
}

func loadSeed(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, w := range seed.Websites {
		if strings.TrimSpace(w.Name) == "" || strings.TrimSpace(w.URL) == "" {
			return nil, fmt.Errorf("seed website %d: name and url are required", i)
		}
	}
	for i, p := range seed.Prompts {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("seed prompt %d: name is required", i)
		}
	}
	return &seed, nil
}

// applySeed installs seed websites when none exist yet and any seed prompt
// whose name is not already taken. Existing data is never overwritten.
func applySeed(ctx context.Context, log *slog.Logger, st store, seed *seedFile, now time.Time) error {
	sites, err := st.ListWebsites(ctx)
	if err != nil {
		return fmt.Errorf("list websites: %w", err)
	}
	if len(sites) == 0 {
		for _, w := range seed.Websites {
			if w.ID == "" {
				w.ID = uuid.NewString()
			}
			if err := st.SaveWebsite(ctx, w); err != nil {
				return fmt.Errorf("seed website %s: %w", w.Name, err)
			}
		}
		log.Info("seeded websites", slog.Int("count", len(seed.Websites)))
	}

	prompts, err := st.ListPrompts(ctx)
	if err != nil {
		return fmt.Errorf("list prompts: %w", err)
	}
	existing := make(map[string]struct{}, len(prompts))
	for _, p := range prompts {
		existing[p.Name] = struct{}{}
	}
	added := 0
	for _, p := range seed.Prompts {
		if _, ok := existing[p.Name]; ok {
			continue
		}
		p.UpdatedAt = now.UTC()
		if err := st.SavePrompt(ctx, p); err != nil {
			return fmt.Errorf("seed prompt %s: %w", p.Name, err)
		}
		added++
	}
	if added > 0 {
		log.Info("seeded prompts", slog.Int("count", added))
	}
	return nil
}
