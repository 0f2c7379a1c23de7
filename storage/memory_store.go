package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"fretscout/models"
)

// MemoryStore keeps alerts, events and listings in process memory. It is
// safe for concurrent use and is the store behind tests and demo runs.
type MemoryStore struct {
	mu       sync.Mutex
	alertSeq int64
	eventSeq int64
	alerts   []models.SavedAlert
	events   []models.AlertEvent
	listings map[string]models.Listing
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[string]models.Listing),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) InsertAlert(_ context.Context, query string, maxPrice *float64) (models.SavedAlert, error) {
	if strings.TrimSpace(query) == "" {
		return models.SavedAlert{}, ErrEmptyQuery
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	alert := models.SavedAlert{
		ID:        m.nextAlertID(),
		Query:     query,
		MaxPrice:  copyFloat(maxPrice),
		CreatedAt: m.now(),
	}
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

func (m *MemoryStore) ListAlerts(_ context.Context) ([]models.SavedAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := append([]models.SavedAlert(nil), m.alerts...)
	sort.SliceStable(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (m *MemoryStore) InsertEvent(_ context.Context, event models.AlertEvent) (models.AlertEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event.ID = m.nextEventID()
	event.CreatedAt = m.now()
	if event.ListingID != nil {
		id := *event.ListingID
		event.ListingID = &id
	}
	m.events = append(m.events, event)
	return event, nil
}

func (m *MemoryStore) ListEvents(_ context.Context) ([]models.AlertEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := append([]models.AlertEvent(nil), m.events...)
	sort.SliceStable(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (m *MemoryStore) WriteListings(_ context.Context, listings []models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range listings {
		m.listings[l.ListingID] = l
	}
	return nil
}

// Listing returns a stored listing by id.
func (m *MemoryStore) Listing(id string) (models.Listing, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	return l, ok
}

func (m *MemoryStore) Close() error { return nil }

// Alerts and events are numbered independently, like their SQL tables.
func (m *MemoryStore) nextAlertID() int64 {
	m.alertSeq++
	return m.alertSeq
}

func (m *MemoryStore) nextEventID() int64 {
	m.eventSeq++
	return m.eventSeq
}

// newerFirst orders by creation time descending, breaking ties by id.
func newerFirst(ti, tj time.Time, idi, idj int64) bool {
	if !ti.Equal(tj) {
		return ti.After(tj)
	}
	return idi > idj
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
