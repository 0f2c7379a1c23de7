package scraper

import (
	"context"
	"errors"
	"fmt"

	"fretscout/models"
	"fretscout/utils"
)

// MultiSource searches several sources concurrently and concatenates their
// results in source order. A failing source is logged and skipped; the
// search only fails when every source fails.
type MultiSource struct {
	sources     []Source
	logger      *utils.Logger
	concurrency int
	rateLimitMs int
}

// NewMultiSource combines sources. At most concurrency searches run at once
// and their starts are spaced rateLimitMs apart.
func NewMultiSource(logger *utils.Logger, concurrency, rateLimitMs int, sources ...Source) *MultiSource {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &MultiSource{
		sources:     sources,
		logger:      logger,
		concurrency: concurrency,
		rateLimitMs: rateLimitMs,
	}
}

func (m *MultiSource) Name() string { return "multi" }

func (m *MultiSource) Search(ctx context.Context, query string, filters Filters) ([]models.RawListing, error) {
	if len(m.sources) == 0 {
		return nil, errors.New("multi: no sources configured")
	}

	results := make([][]models.RawListing, len(m.sources))
	errs := make([]error, len(m.sources))

	pool := utils.NewWorkerPool(m.concurrency, m.rateLimitMs)
	for i, src := range m.sources {
		errs[i] = context.Canceled
		pool.SubmitContext(ctx, func(ctx context.Context) {
			results[i], errs[i] = src.Search(ctx, query, filters)
		})
	}
	pool.Wait()

	var out []models.RawListing
	var failed []error
	for i, src := range m.sources {
		if errs[i] != nil {
			m.logger.Warn("[multi] Source %s failed: %v", src.Name(), errs[i])
			failed = append(failed, fmt.Errorf("%s: %w", src.Name(), errs[i]))
			continue
		}
		m.logger.Debug("[multi] Source %s returned %d listings", src.Name(), len(results[i]))
		out = append(out, results[i]...)
	}

	if len(failed) == len(m.sources) {
		return nil, errors.Join(failed...)
	}
	return out, nil
}
