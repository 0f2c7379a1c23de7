package api

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"fretscout/scraper"
	"fretscout/services"
)

// maxSearchLimit caps the number of listings one request may ask for.
const maxSearchLimit = 200

// ValidationError reports a bad request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// AlertRequest is the POST /alerts body.
type AlertRequest struct {
	Query    string   `json:"query"`
	MaxPrice *float64 `json:"max_price"`
}

// SanitizeString trims whitespace and drops control characters.
func SanitizeString(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s))
}

// parseSearchQuery builds a pipeline request from GET /search parameters.
func parseSearchQuery(q url.Values) (services.SearchRequest, error) {
	req := services.SearchRequest{Query: SanitizeString(q.Get("q"))}
	if req.Query == "" {
		return req, &ValidationError{Field: "q", Message: "is required"}
	}

	maxPrice, err := parseOptionalPrice("max_price", q.Get("max_price"))
	if err != nil {
		return req, err
	}
	req.MaxPrice = maxPrice

	if c := SanitizeString(q.Get("category")); c != "" {
		id, ok := scraper.ResolveCategory(c)
		if !ok {
			return req, &ValidationError{
				Field:   "category",
				Message: "must be a category id or one of: " + strings.Join(scraper.CategoryNames(), ", "),
			}
		}
		req.CategoryIDs = []string{id}
	}

	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxSearchLimit {
			return req, &ValidationError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", maxSearchLimit)}
		}
		req.Limit = n
	}

	if s := q.Get("min_score"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || f < 0 || f > 100 {
			return req, &ValidationError{Field: "min_score", Message: "must be between 0 and 100"}
		}
		req.MinScore = f
	}

	if s := q.Get("high_confidence"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return req, &ValidationError{Field: "high_confidence", Message: "must be a boolean"}
		}
		req.HighConfidenceOnly = b
	}

	mode, err := services.ParseSortMode(q.Get("sort"))
	if err != nil {
		return req, &ValidationError{Field: "sort", Message: "must be relevance, price or deal_score"}
	}
	req.Sort = mode

	return req, nil
}

// validateAlert sanitizes an alert body. A zero max price means no limit.
func validateAlert(req *AlertRequest) error {
	req.Query = SanitizeString(req.Query)
	if req.Query == "" {
		return &ValidationError{Field: "query", Message: "is required"}
	}
	if req.MaxPrice != nil {
		p := *req.MaxPrice
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return &ValidationError{Field: "max_price", Message: "must be a non-negative number"}
		}
		if p == 0 {
			req.MaxPrice = nil
		}
	}
	return nil
}

func parseOptionalPrice(field, s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil, &ValidationError{Field: field, Message: "must be a non-negative number"}
	}
	if f == 0 {
		return nil, nil
	}
	return &f, nil
}
