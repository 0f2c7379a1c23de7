package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"fretscout/models"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore persists alerts, events and listings in a SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serialises writes
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS saved_alerts (
			alert_id   INTEGER PRIMARY KEY AUTOINCREMENT,
			query      TEXT NOT NULL,
			max_price  REAL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alert_events (
			event_id   INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id   INTEGER NOT NULL,
			listing_id TEXT,
			message    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (alert_id) REFERENCES saved_alerts(alert_id)
		)`,
		`CREATE TABLE IF NOT EXISTS listings (
			listing_id   TEXT PRIMARY KEY,
			source       TEXT NOT NULL DEFAULT '',
			title        TEXT NOT NULL,
			price        REAL,
			shipping     REAL,
			all_in_price REAL,
			condition    TEXT NOT NULL DEFAULT '',
			location     TEXT NOT NULL DEFAULT '',
			url          TEXT NOT NULL DEFAULT '',
			deal_label   TEXT,
			deal_score   REAL,
			confidence   TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON saved_alerts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON alert_events(created_at)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) InsertAlert(ctx context.Context, query string, maxPrice *float64) (models.SavedAlert, error) {
	if strings.TrimSpace(query) == "" {
		return models.SavedAlert{}, ErrEmptyQuery
	}
	created := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO saved_alerts (query, max_price, created_at) VALUES (?, ?, ?)`,
		query, nullFloat(maxPrice), created.Format(timeLayout))
	if err != nil {
		return models.SavedAlert{}, fmt.Errorf("sqlite: insert alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.SavedAlert{}, fmt.Errorf("sqlite: insert alert id: %w", err)
	}
	return models.SavedAlert{ID: id, Query: query, MaxPrice: copyFloat(maxPrice), CreatedAt: created}, nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context) ([]models.SavedAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, query, max_price, created_at
		FROM saved_alerts
		ORDER BY created_at DESC, alert_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.SavedAlert
	for rows.Next() {
		var (
			a        models.SavedAlert
			maxPrice sql.NullFloat64
			created  string
		)
		if err := rows.Scan(&a.ID, &a.Query, &maxPrice, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan alert: %w", err)
		}
		a.MaxPrice = fromNullFloat(maxPrice)
		if a.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("sqlite: parse alert created_at: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *SQLiteStore) InsertEvent(ctx context.Context, event models.AlertEvent) (models.AlertEvent, error) {
	created := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_events (alert_id, listing_id, message, created_at) VALUES (?, ?, ?, ?)`,
		event.AlertID, nullString(event.ListingID), event.Message, created.Format(timeLayout))
	if err != nil {
		return models.AlertEvent{}, fmt.Errorf("sqlite: insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.AlertEvent{}, fmt.Errorf("sqlite: insert event id: %w", err)
	}
	event.ID = id
	event.CreatedAt = created
	return event, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context) ([]models.AlertEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, alert_id, listing_id, message, created_at
		FROM alert_events
		ORDER BY created_at DESC, event_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	defer rows.Close()

	var events []models.AlertEvent
	for rows.Next() {
		var (
			e         models.AlertEvent
			listingID sql.NullString
			created   string
		)
		if err := rows.Scan(&e.ID, &e.AlertID, &listingID, &e.Message, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		e.ListingID = fromNullString(listingID)
		if e.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("sqlite: parse event created_at: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// WriteListings upserts the batch in one transaction.
func (s *SQLiteStore) WriteListings(ctx context.Context, listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO listings (
			listing_id, source, title, price, shipping, all_in_price,
			condition, location, url, deal_label, deal_score, confidence, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id) DO UPDATE SET
			source = excluded.source,
			title = excluded.title,
			price = excluded.price,
			shipping = excluded.shipping,
			all_in_price = excluded.all_in_price,
			condition = excluded.condition,
			location = excluded.location,
			url = excluded.url,
			deal_label = excluded.deal_label,
			deal_score = excluded.deal_score,
			confidence = excluded.confidence`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare listing upsert: %w", err)
	}
	defer stmt.Close()

	for _, l := range listings {
		if _, err := stmt.ExecContext(ctx, listingArgs(l)...); err != nil {
			return fmt.Errorf("sqlite: upsert listing %s: %w", l.ListingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// CountListings returns the number of stored listings.
func (s *SQLiteStore) CountListings(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count listings: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// listingArgs flattens a listing into the 13 listings-table columns.
func listingArgs(l models.Listing) []any {
	var label sql.NullString
	var score sql.NullFloat64
	if l.Deal != nil {
		label = sql.NullString{String: string(l.Deal.Label), Valid: true}
		score = sql.NullFloat64{Float64: l.Deal.Score, Valid: true}
	}
	created := l.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return []any{
		l.ListingID,
		l.Source,
		l.Title,
		nullFloat(l.Price),
		nullFloat(l.Shipping),
		nullFloat(l.AllInPrice()),
		l.Condition,
		l.Location,
		l.URL,
		label,
		score,
		string(l.Confidence),
		created.UTC().Format(timeLayout),
	}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func fromNullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func fromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}
