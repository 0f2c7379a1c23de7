package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"fretscout/models"
)

var csvHeader = []string{
	"listing_id", "source", "title", "price", "shipping", "all_in_price", "currency",
	"condition", "location", "seller", "url", "deal_label", "deal_score",
	"reference_price", "percent_diff", "confidence", "confidence_reasons", "created_at",
}

// CSVWriter exports scored listings to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	closer io.Closer
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	c, err := newCSVWriter(f, f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return c, nil
}

func newCSVWriter(w io.Writer, closer io.Closer) (*CSVWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	cw.Flush()
	return &CSVWriter{closer: closer, writer: cw}, cw.Error()
}

// WriteListings appends one row per listing.
func (c *CSVWriter) WriteListings(_ context.Context, listings []models.Listing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range listings {
		if err := c.writer.Write(csvRow(l)); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	if c.closer == nil {
		return c.writer.Error()
	}
	return c.closer.Close()
}

func csvRow(l models.Listing) []string {
	var label, score, ref, pct string
	if l.Deal != nil {
		label = string(l.Deal.Label)
		score = formatFloat(&l.Deal.Score)
		ref = formatFloat(&l.Deal.ReferencePrice)
		pct = strconv.FormatFloat(l.Deal.PercentDiff, 'f', 2, 64)
	}
	return []string{
		l.ListingID,
		l.Source,
		l.Title,
		formatFloat(l.Price),
		formatFloat(l.Shipping),
		formatFloat(l.AllInPrice()),
		l.Currency,
		l.Condition,
		l.Location,
		l.Seller,
		l.URL,
		label,
		score,
		ref,
		pct,
		string(l.Confidence),
		strings.Join(l.ConfidenceReasons, "; "),
		l.CreatedAt.Format(time.RFC3339),
	}
}

func formatFloat(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}
