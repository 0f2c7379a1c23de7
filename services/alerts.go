package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"fretscout/models"
	"fretscout/storage"
	"fretscout/utils"
)

// MatchAlerts evaluates every (alert, listing) pair and persists an event
// for each match. A listing matches when the alert query is a case-insensitive
// substring of its title and, if the alert has a max price, its all-in price
// is known and within it. Repeated runs write repeated events.
//
// The first storage error stops matching; the events written before it are
// returned together with the error.
func MatchAlerts(ctx context.Context, w storage.EventWriter, alerts []models.SavedAlert, listings []models.Listing) ([]models.AlertEvent, error) {
	var events []models.AlertEvent

	for _, alert := range alerts {
		query := strings.ToLower(alert.Query)
		for _, l := range listings {
			if !alertMatches(alert, query, l) {
				continue
			}

			listingID := l.ListingID
			event, err := w.InsertEvent(ctx, models.AlertEvent{
				AlertID:   alert.ID,
				ListingID: &listingID,
				Message:   matchMessage(l),
			})
			if err != nil {
				return events, fmt.Errorf("alerts: insert event for alert %d: %w", alert.ID, err)
			}
			events = append(events, event)
		}
	}
	return events, nil
}

func alertMatches(alert models.SavedAlert, lowerQuery string, l models.Listing) bool {
	if !strings.Contains(strings.ToLower(l.Title), lowerQuery) {
		return false
	}
	if alert.MaxPrice == nil {
		return true
	}
	allIn := l.AllInPrice()
	if allIn == nil {
		return false
	}
	return withinLimit(*allIn, *alert.MaxPrice)
}

// withinLimit reports price <= limit in decimal arithmetic. Non-finite values
// never match, except that a +Inf limit admits every finite price.
func withinLimit(price, limit float64) bool {
	switch {
	case math.IsNaN(price) || math.IsInf(price, 0) || math.IsNaN(limit):
		return false
	case math.IsInf(limit, 1):
		return true
	case math.IsInf(limit, -1):
		return false
	}
	return decimal.NewFromFloat(price).LessThanOrEqual(decimal.NewFromFloat(limit))
}

func matchMessage(l models.Listing) string {
	allIn := l.AllInPrice()
	if allIn == nil {
		return fmt.Sprintf("Match found: %s at N/A", l.Title)
	}
	return fmt.Sprintf("Match found: %s at %s", l.Title, utils.FormatPrice(allIn))
}
