package services

import (
	"strings"

	"fretscout/models"
)

// Dedupe collapses listings that share a ListingID into the most complete
// one. Identity is assigned first, so unidentified input is accepted. Output
// order follows each id's first appearance; on equal completeness the
// earlier listing wins.
func Dedupe(listings []models.Listing) []models.Listing {
	identified := AssignIdentities(listings)

	order := make([]string, 0, len(identified))
	best := make(map[string]models.Listing, len(identified))
	scores := make(map[string]int, len(identified))

	for _, l := range identified {
		score := completeness(l)
		prev, seen := scores[l.ListingID]
		if !seen {
			order = append(order, l.ListingID)
			best[l.ListingID] = l
			scores[l.ListingID] = score
			continue
		}
		if score > prev {
			best[l.ListingID] = l
			scores[l.ListingID] = score
		}
	}

	out := make([]models.Listing, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}

// completeness counts the populated fields that make a listing more useful
// to show. Title is deliberately not counted.
func completeness(l models.Listing) int {
	n := 0
	for _, s := range []string{l.ImageURL, l.URL, l.Condition, l.Seller, l.Location, l.Currency} {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	if l.Price != nil {
		n++
	}
	return n
}
