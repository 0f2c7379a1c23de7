package services

import (
	"fmt"
	"sort"
	"strings"

	"fretscout/models"
)

// SortMode selects a presentation ordering for scored listings.
type SortMode string

const (
	SortRelevance    SortMode = "relevance"
	SortPriceLowHigh SortMode = "price"
	SortDealScore    SortMode = "deal_score"
)

// ParseSortMode accepts the API/CLI spellings of a sort mode. The empty
// string is Relevance.
func ParseSortMode(s string) (SortMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "relevance":
		return SortRelevance, nil
	case "price", "price_asc", "price_low_high":
		return SortPriceLowHigh, nil
	case "deal", "deal_score", "score":
		return SortDealScore, nil
	default:
		return "", fmt.Errorf("unknown sort mode %q", s)
	}
}

// FilterListings keeps listings scoring at least minScore (when minScore is
// positive) and, if highConfidenceOnly is set, only High confidence ones.
func FilterListings(listings []models.Listing, minScore float64, highConfidenceOnly bool) []models.Listing {
	out := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		if minScore > 0 && (l.Deal == nil || l.Deal.Score < minScore) {
			continue
		}
		if highConfidenceOnly && l.Confidence != models.ConfidenceHigh {
			continue
		}
		out = append(out, l)
	}
	return out
}

// SortListings returns a sorted copy of listings. Unknown modes keep input
// order, as does Relevance.
func SortListings(listings []models.Listing, mode SortMode) []models.Listing {
	out := append([]models.Listing(nil), listings...)

	switch mode {
	case SortPriceLowHigh:
		sort.SliceStable(out, func(i, j int) bool {
			return lessPrice(out[i].Price, out[j].Price)
		})
	case SortDealScore:
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i], out[j]
			if ra, rb := a.Confidence.Rank(), b.Confidence.Rank(); ra != rb {
				return ra < rb
			}
			if (a.Deal == nil) != (b.Deal == nil) {
				return a.Deal != nil
			}
			if a.Deal != nil && a.Deal.Score != b.Deal.Score {
				return a.Deal.Score > b.Deal.Score
			}
			return lessPrice(a.Price, b.Price)
		})
	}
	return out
}

// lessPrice orders usable prices ascending and absent or malformed prices
// last.
func lessPrice(a, b *float64) bool {
	switch {
	case !validPrice(a):
		return false
	case !validPrice(b):
		return true
	default:
		return *a < *b
	}
}
