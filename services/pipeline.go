package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fretscout/models"
	"fretscout/scraper"
	"fretscout/storage"
	"fretscout/utils"
)

// ErrEmptyQuery is returned when a search is requested without a query.
var ErrEmptyQuery = errors.New("search query is empty")

// AlertBackend is the storage the pipeline reads alerts from and writes
// events to.
type AlertBackend interface {
	storage.AlertReader
	storage.EventWriter
}

// SearchRequest describes one search run. MaxPrice narrows results by
// all-in price; MinScore, HighConfidenceOnly and Sort shape the returned
// view only and never affect alert matching.
type SearchRequest struct {
	Query              string
	MaxPrice           *float64
	CategoryIDs        []string
	Limit              int
	MinScore           float64
	HighConfidenceOnly bool
	Sort               SortMode
}

// SearchResult is the outcome of one run. Scored holds every listing that
// alerts were matched against; Listings is the filtered, sorted view.
type SearchResult struct {
	RunID        string              `json:"run_id"`
	Source       string              `json:"source"`
	UsedFallback bool                `json:"used_fallback"`
	Benchmark    *float64            `json:"benchmark"`
	Scored       []models.Listing    `json:"-"`
	Listings     []models.Listing    `json:"listings"`
	Events       []models.AlertEvent `json:"events"`
}

// Pipeline runs source → identity → dedup → max-price → score → alerts.
type Pipeline struct {
	source   scraper.Source
	fallback scraper.Source
	alerts   AlertBackend
	writers  []storage.ListingWriter
	logger   *utils.Logger
	tracer   trace.Tracer
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithFallback sets the source used when the primary source fails.
func WithFallback(src scraper.Source) PipelineOption {
	return func(p *Pipeline) {
		p.fallback = src
	}
}

// WithListingWriters persists every scored batch to each writer.
func WithListingWriters(writers ...storage.ListingWriter) PipelineOption {
	return func(p *Pipeline) {
		p.writers = append(p.writers, writers...)
	}
}

// WithTracer sets the tracer used for stage spans.
func WithTracer(tracer trace.Tracer) PipelineOption {
	return func(p *Pipeline) {
		p.tracer = tracer
	}
}

// NewPipeline creates a Pipeline over source and an alert backend. A nil
// backend skips alert matching.
func NewPipeline(source scraper.Source, alerts AlertBackend, logger *utils.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	p := &Pipeline{
		source: source,
		alerts: alerts,
		logger: logger,
		tracer: otel.Tracer("fretscout/services"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Search executes one run. Source failures fall back to the fallback source
// when one is configured. Listing writer failures are logged; alert storage
// failures are returned together with the partial result.
func (p *Pipeline) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	result := &SearchResult{RunID: uuid.NewString()}
	ctx, span := p.tracer.Start(ctx, "pipeline.search", trace.WithAttributes(
		attribute.String("run_id", result.RunID),
		attribute.String("query", query),
	))
	defer span.End()

	p.logger.Info("[pipeline] Run %s: searching %q", result.RunID, query)

	raw, err := p.fetch(ctx, query, req, result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}

	listings := p.stage(ctx, "pipeline.identity", func() []models.Listing {
		return NewListingsFromRaw(raw)
	})
	listings = p.stage(ctx, "pipeline.dedupe", func() []models.Listing {
		return Dedupe(listings)
	})
	if req.MaxPrice != nil {
		listings = p.stage(ctx, "pipeline.max_price", func() []models.Listing {
			return WithinMaxPrice(listings, *req.MaxPrice)
		})
	}
	listings = p.stage(ctx, "pipeline.score", func() []models.Listing {
		return Score(listings)
	})
	if b, ok := Benchmark(listings); ok {
		result.Benchmark = &b
	}
	result.Scored = listings

	p.persist(ctx, listings)

	events, err := p.matchAlerts(ctx, listings)
	result.Events = events
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "alert matching failed")
		return result, err
	}

	result.Listings = SortListings(FilterListings(listings, req.MinScore, req.HighConfidenceOnly), req.Sort)
	span.SetAttributes(
		attribute.Int("listings", len(result.Scored)),
		attribute.Int("events", len(result.Events)),
		attribute.Bool("used_fallback", result.UsedFallback),
	)
	p.logger.Info("[pipeline] Run %s: %d listings, %d shown, %d alert events",
		result.RunID, len(result.Scored), len(result.Listings), len(result.Events))
	return result, nil
}

func (p *Pipeline) fetch(ctx context.Context, query string, req SearchRequest, result *SearchResult) ([]models.RawListing, error) {
	filters := scraper.Filters{
		Limit:       req.Limit,
		CategoryIDs: req.CategoryIDs,
		MaxPrice:    req.MaxPrice,
	}

	raw, err := p.fetchFrom(ctx, p.source, query, filters)
	if err == nil {
		result.Source = p.source.Name()
		return raw, nil
	}
	if p.fallback == nil {
		return nil, fmt.Errorf("pipeline: fetch: %w", err)
	}

	p.logger.Warn("[pipeline] Source %s failed, using %s: %v", p.source.Name(), p.fallback.Name(), err)
	raw, fbErr := p.fetchFrom(ctx, p.fallback, query, filters)
	if fbErr != nil {
		return nil, fmt.Errorf("pipeline: fetch: %w", errors.Join(err, fbErr))
	}
	result.Source = p.fallback.Name()
	result.UsedFallback = true
	return raw, nil
}

func (p *Pipeline) fetchFrom(ctx context.Context, src scraper.Source, query string, filters scraper.Filters) ([]models.RawListing, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.fetch", trace.WithAttributes(
		attribute.String("source", src.Name()),
	))
	defer span.End()

	raw, err := src.Search(ctx, query, filters)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "source search failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("raw_listings", len(raw)))
	return raw, nil
}

// stage runs a pure transformation inside a span.
func (p *Pipeline) stage(ctx context.Context, name string, fn func() []models.Listing) []models.Listing {
	_, span := p.tracer.Start(ctx, name)
	defer span.End()

	out := fn()
	span.SetAttributes(attribute.Int("listings", len(out)))
	return out
}

func (p *Pipeline) persist(ctx context.Context, listings []models.Listing) {
	if len(p.writers) == 0 || len(listings) == 0 {
		return
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.persist")
	defer span.End()

	for _, w := range p.writers {
		if err := w.WriteListings(ctx, listings); err != nil {
			span.RecordError(err)
			p.logger.Error("[pipeline] Listing write failed: %v", err)
		}
	}
}

func (p *Pipeline) matchAlerts(ctx context.Context, listings []models.Listing) ([]models.AlertEvent, error) {
	if p.alerts == nil {
		return nil, nil
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.alerts")
	defer span.End()

	alerts, err := p.alerts.ListAlerts(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("pipeline: list alerts: %w", err)
	}

	events, err := MatchAlerts(ctx, p.alerts, alerts, listings)
	span.SetAttributes(
		attribute.Int("alerts", len(alerts)),
		attribute.Int("events", len(events)),
	)
	if err != nil {
		span.RecordError(err)
		return events, err
	}
	return events, nil
}

// WithinMaxPrice keeps listings whose all-in price is known and at most
// maxPrice.
func WithinMaxPrice(listings []models.Listing, maxPrice float64) []models.Listing {
	out := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		allIn := l.AllInPrice()
		if allIn == nil || !withinLimit(*allIn, maxPrice) {
			continue
		}
		out = append(out, l)
	}
	return out
}
