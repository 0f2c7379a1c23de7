// Package stub serves a fixed set of sample guitar listings. It backs demo
// mode when no live source is configured and is the fallback when one fails.
package stub

import (
	"context"
	"strings"

	"fretscout/models"
	"fretscout/scraper"
)

type sample struct {
	id, title, condition, location, source string
	price, shipping                        float64
}

var samples = []sample{
	{"reverb-001", "Fender American Vintage '62 Stratocaster", "Very Good", "Austin, TX", "Reverb (Stub)", 1899, 85},
	{"ebay-002", "Gibson Les Paul Standard 1998", "Good", "Nashville, TN", "eBay (Stub)", 2295, 120},
	{"gc-003", "Martin D-28 Vintage 1974", "Excellent", "Chicago, IL", "Guitar Center (Stub)", 3199, 140},
	{"cl-004", "PRS Custom 24 10-Top", "Very Good", "Portland, OR", "Craigslist (Stub)", 2599, 95},
}

// Source returns the sample listings whose title contains the query.
type Source struct{}

// New creates a stub Source.
func New() *Source { return &Source{} }

func (*Source) Name() string { return "stub" }

// Search ignores filters. A blank query returns every sample.
func (*Source) Search(ctx context.Context, query string, _ scraper.Filters) ([]models.RawListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	var out []models.RawListing
	for _, s := range samples {
		if q != "" && !strings.Contains(strings.ToLower(s.title), q) {
			continue
		}
		price, shipping := s.price, s.shipping
		out = append(out, models.RawListing{
			ListingID: s.id,
			Source:    s.source,
			Title:     s.title,
			Price:     &price,
			Shipping:  &shipping,
			Currency:  "USD",
			Condition: s.condition,
			Location:  s.location,
			URL:       "https://example.com/listings/" + s.id,
		})
	}
	return out, nil
}
