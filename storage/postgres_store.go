package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"fretscout/models"
)

// listingColumns is the column count of one listings row.
const listingColumns = 13

// PostgresStore persists alerts, events and listings to PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection to PostgreSQL, waits for the server to
// accept connections, runs schema migrations, and returns a ready-to-use store.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			db.Close()
			return nil, fmt.Errorf("postgres: ping: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := &PostgresStore{db: db}
	if err := ps.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return ps, nil
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS saved_alerts (
			alert_id   BIGSERIAL PRIMARY KEY,
			query      TEXT        NOT NULL,
			max_price  NUMERIC(12,2),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS alert_events (
			event_id   BIGSERIAL PRIMARY KEY,
			alert_id   BIGINT      NOT NULL REFERENCES saved_alerts(alert_id),
			listing_id TEXT,
			message    TEXT        NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS listings (
			listing_id   TEXT PRIMARY KEY,
			source       TEXT          NOT NULL DEFAULT '',
			title        TEXT          NOT NULL,
			price        NUMERIC(12,2),
			shipping     NUMERIC(12,2),
			all_in_price NUMERIC(12,2),
			condition    TEXT          NOT NULL DEFAULT '',
			location     TEXT          NOT NULL DEFAULT '',
			url          TEXT          NOT NULL DEFAULT '',
			deal_label   VARCHAR(8),
			deal_score   NUMERIC(4,1),
			confidence   VARCHAR(8)    NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_created ON saved_alerts(created_at);
		CREATE INDEX IF NOT EXISTS idx_events_created ON alert_events(created_at);
		CREATE INDEX IF NOT EXISTS idx_listings_label ON listings(deal_label);
	`)
	return err
}

func (ps *PostgresStore) InsertAlert(ctx context.Context, query string, maxPrice *float64) (models.SavedAlert, error) {
	if strings.TrimSpace(query) == "" {
		return models.SavedAlert{}, ErrEmptyQuery
	}
	a := models.SavedAlert{Query: query, MaxPrice: copyFloat(maxPrice)}
	err := ps.db.QueryRowContext(ctx,
		`INSERT INTO saved_alerts (query, max_price) VALUES ($1, $2) RETURNING alert_id, created_at`,
		query, nullFloat(maxPrice),
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return models.SavedAlert{}, fmt.Errorf("postgres: insert alert: %w", err)
	}
	return a, nil
}

func (ps *PostgresStore) ListAlerts(ctx context.Context) ([]models.SavedAlert, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT alert_id, query, max_price, created_at
		FROM saved_alerts
		ORDER BY created_at DESC, alert_id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.SavedAlert
	for rows.Next() {
		var a models.SavedAlert
		var maxPrice sql.NullFloat64
		if err := rows.Scan(&a.ID, &a.Query, &maxPrice, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		a.MaxPrice = fromNullFloat(maxPrice)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (ps *PostgresStore) InsertEvent(ctx context.Context, event models.AlertEvent) (models.AlertEvent, error) {
	err := ps.db.QueryRowContext(ctx,
		`INSERT INTO alert_events (alert_id, listing_id, message) VALUES ($1, $2, $3) RETURNING event_id, created_at`,
		event.AlertID, nullString(event.ListingID), event.Message,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return models.AlertEvent{}, fmt.Errorf("postgres: insert event: %w", err)
	}
	return event, nil
}

func (ps *PostgresStore) ListEvents(ctx context.Context) ([]models.AlertEvent, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT event_id, alert_id, listing_id, message, created_at
		FROM alert_events
		ORDER BY created_at DESC, event_id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []models.AlertEvent
	for rows.Next() {
		var e models.AlertEvent
		var listingID sql.NullString
		if err := rows.Scan(&e.ID, &e.AlertID, &listingID, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.ListingID = fromNullString(listingID)
		events = append(events, e)
	}
	return events, rows.Err()
}

// WriteListings batch-upserts the scored listings.
func (ps *PostgresStore) WriteListings(ctx context.Context, listings []models.Listing) error {
	const batchSize = 50
	for i := 0; i < len(listings); i += batchSize {
		end := i + batchSize
		if end > len(listings) {
			end = len(listings)
		}
		if err := ps.upsertBatch(ctx, dedupeBatch(listings[i:end])); err != nil {
			return fmt.Errorf("postgres: upsert listings: %w", err)
		}
	}
	return nil
}

func (ps *PostgresStore) upsertBatch(ctx context.Context, batch []models.Listing) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]any, 0, len(batch)*listingColumns)

	for idx, l := range batch {
		base := idx * listingColumns
		placeholders := make([]string, listingColumns)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs, postgresListingArgs(l)...)
	}

	query := fmt.Sprintf(`
		INSERT INTO listings (
			listing_id, source, title, price, shipping, all_in_price,
			condition, location, url, deal_label, deal_score, confidence, created_at
		)
		VALUES %s
		ON CONFLICT (listing_id) DO UPDATE SET
			source = EXCLUDED.source,
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			shipping = EXCLUDED.shipping,
			all_in_price = EXCLUDED.all_in_price,
			condition = EXCLUDED.condition,
			location = EXCLUDED.location,
			url = EXCLUDED.url,
			deal_label = EXCLUDED.deal_label,
			deal_score = EXCLUDED.deal_score,
			confidence = EXCLUDED.confidence
	`, strings.Join(valueStrings, ","))

	_, err := ps.db.ExecContext(ctx, query, valueArgs...)
	return err
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

// postgresListingArgs is listingArgs with a native timestamp.
func postgresListingArgs(l models.Listing) []any {
	args := listingArgs(l)
	created := l.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	args[listingColumns-1] = created.UTC()
	return args
}

// dedupeBatch keeps the last row per listing id; Postgres rejects an upsert
// that touches the same key twice in one statement.
func dedupeBatch(batch []models.Listing) []models.Listing {
	pos := make(map[string]int, len(batch))
	out := make([]models.Listing, 0, len(batch))
	for _, l := range batch {
		if i, ok := pos[l.ListingID]; ok {
			out[i] = l
			continue
		}
		pos[l.ListingID] = len(out)
		out = append(out, l)
	}
	return out
}
