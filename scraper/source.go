// Package scraper defines listing sources and the errors they report.
package scraper

import (
	"context"
	"errors"
	"fmt"

	"fretscout/models"
)

// Source fetches raw listings for a search query.
type Source interface {
	Name() string
	Search(ctx context.Context, query string, filters Filters) ([]models.RawListing, error)
}

// Filters narrows a search at the source. Zero values mean "no filter".
type Filters struct {
	Limit       int
	Offset      int
	CategoryIDs []string
	MinPrice    *float64
	MaxPrice    *float64
}

// FetchError reports a failed source call. Transient errors (rate limits,
// server errors, network failures) may succeed on retry; others will not.
type FetchError struct {
	Source    string
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s fetch error: %v", e.Source, kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err wraps a transient FetchError.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}
