package storage

import (
	"context"
	"errors"

	"fretscout/models"
)

// ErrEmptyQuery is returned when an alert is saved without a search query.
var ErrEmptyQuery = errors.New("storage: alert query is empty")

// AlertReader lists saved alerts, newest first.
type AlertReader interface {
	ListAlerts(ctx context.Context) ([]models.SavedAlert, error)
}

// EventWriter persists one alert event and returns it with its assigned id
// and creation time.
type EventWriter interface {
	InsertEvent(ctx context.Context, event models.AlertEvent) (models.AlertEvent, error)
}

// ListingWriter persists a scored batch of listings, replacing any stored
// row with the same listing id.
type ListingWriter interface {
	WriteListings(ctx context.Context, listings []models.Listing) error
}

// AlertStore is the interface any alert storage backend must satisfy.
type AlertStore interface {
	AlertReader
	EventWriter
	ListingWriter
	InsertAlert(ctx context.Context, query string, maxPrice *float64) (models.SavedAlert, error)
	ListEvents(ctx context.Context) ([]models.AlertEvent, error)
	Close() error
}
