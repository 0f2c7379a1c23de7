package stub

import (
	"context"
	"testing"

	"fretscout/scraper"
)

func TestSearchFiltersByTitle(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"reverb-001", "ebay-002", "gc-003", "cl-004"}},
		{"  LES PAUL ", []string{"ebay-002"}},
		{"vintage", []string{"reverb-001", "gc-003"}},
		{"telecaster", nil},
	}

	for _, tt := range tests {
		got, err := New().Search(context.Background(), tt.query, scraper.Filters{})
		if err != nil {
			t.Fatalf("Search(%q): %v", tt.query, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("Search(%q): got %d listings, want %d", tt.query, len(got), len(tt.want))
		}
		for i, l := range got {
			if l.ListingID != tt.want[i] {
				t.Errorf("Search(%q)[%d]: got %s, want %s", tt.query, i, l.ListingID, tt.want[i])
			}
		}
	}
}

func TestSearchListingShape(t *testing.T) {
	got, _ := New().Search(context.Background(), "stratocaster", scraper.Filters{})
	if len(got) != 1 {
		t.Fatalf("got %d listings, want 1", len(got))
	}
	l := got[0]
	if *l.Price != 1899 || *l.Shipping != 85 {
		t.Errorf("price/shipping: got %v/%v, want 1899/85", *l.Price, *l.Shipping)
	}
	if l.URL != "https://example.com/listings/reverb-001" {
		t.Errorf("url: got %q", l.URL)
	}
	if l.Source != "Reverb (Stub)" || l.Condition != "Very Good" || l.Location != "Austin, TX" {
		t.Errorf("unexpected listing: %+v", l)
	}
}

func TestSearchHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Search(ctx, "", scraper.Filters{}); err == nil {
		t.Error("expected context error")
	}
}
