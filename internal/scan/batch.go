package scan

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/sec-intel-radar/backend/internal/models"
)

// Trigger asks the remote pipeline to scan one website and returns the id of
// the submitted request. It does not wait for the scan to finish.
type Trigger interface {
	Trigger(ctx context.Context, site models.Website) (string, error)
}

// TriggerFunc adapts a plain function to Trigger.
type TriggerFunc func(ctx context.Context, site models.Website) (string, error)

// Trigger calls f.
func (f TriggerFunc) Trigger(ctx context.Context, site models.Website) (string, error) {
	return f(ctx, site)
}

// Options bound a batch run.
type Options struct {
	// Concurrency caps in-flight triggers. Values below 1 mean 1.
	Concurrency int
	// Timeout applies to each trigger call. Zero disables it.
	Timeout time.Duration
}

// Result reports the outcome for one website of a batch.
type Result struct {
	Website   models.Website `json:"website"`
	RequestID string         `json:"request_id,omitempty"`
	Err       error          `json:"-"`
}

// OK reports whether the trigger succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Batch triggers a scan for every website with bounded concurrency. It
// returns one Result per website in input order. A failing website does not
// stop the others; once ctx is done, websites not yet started report ctx.Err().
func Batch(ctx context.Context, sites []models.Website, opts Options, trigger Trigger) []Result {
	results := make([]Result, len(sites))
	if len(sites) == 0 {
		return results
	}

	limit := opts.Concurrency
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i, site := range sites {
		results[i].Website = site
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}

		i, site := i, site
		g.Go(func() error {
			callCtx := ctx
			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
				defer cancel()
			}
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			id, err := trigger.Trigger(callCtx, site)
			results[i].RequestID = id
			results[i].Err = err
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// Summary counts successes and failures of a batch.
func Summary(results []Result) (ok, failed int) {
	for _, r := range results {
		if r.OK() {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}
