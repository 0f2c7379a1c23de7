package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fretscout/models"
)

func setupSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "fretscout_test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fixedClock returns the same instant on every call.
func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

// steppingClock advances one second per call.
func steppingClock() func() time.Time {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		at = at.Add(time.Second)
		return at
	}
}

func ptr(f float64) *float64 { return &f }

// stores yields each backend under test with an injected clock.
func stores(t *testing.T, clock func() time.Time) map[string]AlertStore {
	sqlite := setupSQLite(t)
	sqlite.now = clock
	mem := NewMemoryStore()
	mem.now = clock
	return map[string]AlertStore{"sqlite": sqlite, "memory": mem}
}

func TestInsertAlertAssignsIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t, steppingClock()) {
		t.Run(name, func(t *testing.T) {
			a1, err := s.InsertAlert(ctx, "stratocaster", nil)
			if err != nil {
				t.Fatalf("InsertAlert: %v", err)
			}
			a2, err := s.InsertAlert(ctx, "les paul", ptr(2500))
			if err != nil {
				t.Fatalf("InsertAlert: %v", err)
			}

			if a2.ID <= a1.ID {
				t.Errorf("ids not increasing: %d then %d", a1.ID, a2.ID)
			}
			if a2.MaxPrice == nil || *a2.MaxPrice != 2500 {
				t.Errorf("max price: got %v, want 2500", a2.MaxPrice)
			}
			if a1.CreatedAt.IsZero() {
				t.Error("created_at should be set")
			}
		})
	}
}

func TestInsertAlertRejectsEmptyQuery(t *testing.T) {
	for name, s := range stores(t, steppingClock()) {
		t.Run(name, func(t *testing.T) {
			_, err := s.InsertAlert(context.Background(), "   ", nil)
			if !errors.Is(err, ErrEmptyQuery) {
				t.Errorf("got %v, want ErrEmptyQuery", err)
			}
		})
	}
}

func TestListAlertsNewestFirst(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t, steppingClock()) {
		t.Run(name, func(t *testing.T) {
			for _, q := range []string{"first", "second", "third"} {
				if _, err := s.InsertAlert(ctx, q, nil); err != nil {
					t.Fatalf("InsertAlert(%s): %v", q, err)
				}
			}

			alerts, err := s.ListAlerts(ctx)
			if err != nil {
				t.Fatalf("ListAlerts: %v", err)
			}
			want := []string{"third", "second", "first"}
			if len(alerts) != len(want) {
				t.Fatalf("len: got %d, want %d", len(alerts), len(want))
			}
			for i, a := range alerts {
				if a.Query != want[i] {
					t.Errorf("index %d: got %q, want %q", i, a.Query, want[i])
				}
				if a.MaxPrice != nil {
					t.Errorf("index %d: max price should be nil, got %v", i, *a.MaxPrice)
				}
			}
		})
	}
}

func TestAlertAndEventIDsAreIndependent(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t, steppingClock()) {
		t.Run(name, func(t *testing.T) {
			a1, err := s.InsertAlert(ctx, "tele", nil)
			if err != nil {
				t.Fatalf("InsertAlert: %v", err)
			}
			e1, err := s.InsertEvent(ctx, models.AlertEvent{AlertID: a1.ID, Message: "first"})
			if err != nil {
				t.Fatalf("InsertEvent: %v", err)
			}
			a2, err := s.InsertAlert(ctx, "jazzmaster", nil)
			if err != nil {
				t.Fatalf("InsertAlert: %v", err)
			}
			e2, err := s.InsertEvent(ctx, models.AlertEvent{AlertID: a2.ID, Message: "second"})
			if err != nil {
				t.Fatalf("InsertEvent: %v", err)
			}

			if a1.ID != 1 || a2.ID != 2 {
				t.Errorf("alert ids: got %d, %d, want 1, 2", a1.ID, a2.ID)
			}
			if e1.ID != 1 || e2.ID != 2 {
				t.Errorf("event ids: got %d, %d, want 1, 2", e1.ID, e2.ID)
			}
		})
	}
}

func TestListEventsSameTimestampOrdersByID(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t, fixedClock()) {
		t.Run(name, func(t *testing.T) {
			alert, err := s.InsertAlert(ctx, "martin", nil)
			if err != nil {
				t.Fatalf("InsertAlert: %v", err)
			}

			listingID := "gc-003"
			for _, msg := range []string{"one", "two"} {
				if _, err := s.InsertEvent(ctx, models.AlertEvent{AlertID: alert.ID, ListingID: &listingID, Message: msg}); err != nil {
					t.Fatalf("InsertEvent: %v", err)
				}
			}
			if _, err := s.InsertEvent(ctx, models.AlertEvent{AlertID: alert.ID, Message: "no listing"}); err != nil {
				t.Fatalf("InsertEvent: %v", err)
			}

			events, err := s.ListEvents(ctx)
			if err != nil {
				t.Fatalf("ListEvents: %v", err)
			}
			if len(events) != 3 {
				t.Fatalf("len: got %d, want 3", len(events))
			}
			if events[0].Message != "no listing" || events[2].Message != "one" {
				t.Errorf("order: got %q..%q, want newest id first", events[0].Message, events[2].Message)
			}
			if events[0].ListingID != nil {
				t.Errorf("nullable listing id: got %v, want nil", *events[0].ListingID)
			}
			if events[1].ListingID == nil || *events[1].ListingID != "gc-003" {
				t.Errorf("listing id: got %v, want gc-003", events[1].ListingID)
			}
			if events[1].AlertID != alert.ID {
				t.Errorf("alert id: got %d, want %d", events[1].AlertID, alert.ID)
			}
		})
	}
}

func TestSQLiteWriteListingsUpserts(t *testing.T) {
	ctx := context.Background()
	s := setupSQLite(t)

	batch := []models.Listing{
		{ListingID: "a", Title: "Strat", Price: ptr(1000), CreatedAt: time.Now()},
		{ListingID: "b", Title: "Tele", Deal: &models.DealAssessment{Label: models.DealGood, Score: 99}},
	}
	if err := s.WriteListings(ctx, batch); err != nil {
		t.Fatalf("WriteListings: %v", err)
	}
	batch[0].Title = "Strat (updated)"
	if err := s.WriteListings(ctx, batch[:1]); err != nil {
		t.Fatalf("WriteListings: %v", err)
	}

	n, err := s.CountListings(ctx)
	if err != nil {
		t.Fatalf("CountListings: %v", err)
	}
	if n != 2 {
		t.Errorf("count: got %d, want 2", n)
	}

	var title string
	if err := s.db.QueryRow(`SELECT title FROM listings WHERE listing_id = 'a'`).Scan(&title); err != nil {
		t.Fatalf("select: %v", err)
	}
	if title != "Strat (updated)" {
		t.Errorf("title: got %q, want updated title", title)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.InsertAlert(ctx, "gibson", ptr(3000)); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	alerts, err := s.ListAlerts(ctx)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Query != "gibson" {
		t.Errorf("got %+v, want the saved gibson alert", alerts)
	}
}

func TestMemoryStoreWriteListings(t *testing.T) {
	m := NewMemoryStore()
	if err := m.WriteListings(context.Background(), []models.Listing{{ListingID: "x", Title: "SG"}}); err != nil {
		t.Fatalf("WriteListings: %v", err)
	}
	if l, ok := m.Listing("x"); !ok || l.Title != "SG" {
		t.Errorf("got %+v, %v; want stored SG", l, ok)
	}
}

func TestDedupeBatchKeepsLastPerID(t *testing.T) {
	out := dedupeBatch([]models.Listing{
		{ListingID: "a", Title: "old"},
		{ListingID: "b"},
		{ListingID: "a", Title: "new"},
	})
	if len(out) != 2 {
		t.Fatalf("len: got %d, want 2", len(out))
	}
	if out[0].ListingID != "a" || out[0].Title != "new" {
		t.Errorf("got %+v, want a/new first", out[0])
	}
}
