package models

import "time"

// SavedAlert is a persisted search query with an optional all-in price cap.
type SavedAlert struct {
	ID        int64     `json:"id"`
	Query     string    `json:"query"`
	MaxPrice  *float64  `json:"max_price"`
	CreatedAt time.Time `json:"created_at"`
}

// AlertEvent records one alert matching one listing. Events are append-only.
type AlertEvent struct {
	ID        int64     `json:"id"`
	AlertID   int64     `json:"alert_id"`
	ListingID *string   `json:"listing_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
