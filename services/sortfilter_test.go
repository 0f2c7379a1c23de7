package services

import (
	"testing"

	"fretscout/models"
)

func scored(id string, conf models.Confidence, score *float64, price *float64) models.Listing {
	l := models.Listing{ListingID: id, Confidence: conf, Price: price}
	if score != nil {
		l.Deal = &models.DealAssessment{Label: models.DealFair, Score: *score}
	}
	return l
}

func TestFilterListings(t *testing.T) {
	in := []models.Listing{
		scored("a", models.ConfidenceHigh, ptr(80), ptr(100)),
		scored("b", models.ConfidenceMedium, ptr(95), ptr(100)),
		scored("c", models.ConfidenceHigh, nil, nil),
		scored("d", models.ConfidenceHigh, ptr(50), ptr(100)),
	}

	tests := []struct {
		name     string
		minScore float64
		highOnly bool
		want     []string
	}{
		{"no filters", 0, false, []string{"a", "b", "c", "d"}},
		{"min score", 80, false, []string{"a", "b"}},
		{"high confidence", 0, true, []string{"a", "c", "d"}},
		{"both", 60, true, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(FilterListings(in, tt.minScore, tt.highOnly))
			if !equalStrings(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortListingsPrice(t *testing.T) {
	in := []models.Listing{
		scored("none1", "", nil, nil),
		scored("high", "", nil, ptr(300)),
		scored("low", "", nil, ptr(100)),
		scored("none2", "", nil, nil),
		scored("low2", "", nil, ptr(100)),
	}

	got := ids(SortListings(in, SortPriceLowHigh))
	want := []string{"low", "low2", "high", "none1", "none2"}
	if !equalStrings(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if in[0].ListingID != "none1" {
		t.Error("input was reordered")
	}
}

func TestSortListingsDealScore(t *testing.T) {
	in := []models.Listing{
		scored("low-conf", models.ConfidenceLow, ptr(99), ptr(10)),
		scored("high-unscored", models.ConfidenceHigh, nil, ptr(10)),
		scored("high-80-cheap", models.ConfidenceHigh, ptr(80), ptr(100)),
		scored("high-95", models.ConfidenceHigh, ptr(95), ptr(500)),
		scored("medium", models.ConfidenceMedium, ptr(100), ptr(1)),
		scored("high-80-pricey", models.ConfidenceHigh, ptr(80), ptr(200)),
		scored("unset", "", ptr(100), ptr(1)),
	}

	got := ids(SortListings(in, SortDealScore))
	want := []string{
		"high-95",
		"high-80-cheap",
		"high-80-pricey",
		"high-unscored",
		"medium",
		"low-conf",
		"unset",
	}
	if !equalStrings(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSortListingsRelevanceKeepsOrder(t *testing.T) {
	in := []models.Listing{
		scored("b", models.ConfidenceLow, nil, ptr(5)),
		scored("a", models.ConfidenceHigh, ptr(100), ptr(1)),
	}
	if got := ids(SortListings(in, SortRelevance)); !equalStrings(got, []string{"b", "a"}) {
		t.Errorf("got %v, want input order", got)
	}
}

func TestParseSortMode(t *testing.T) {
	tests := []struct {
		in      string
		want    SortMode
		wantErr bool
	}{
		{"", SortRelevance, false},
		{"Relevance", SortRelevance, false},
		{"price", SortPriceLowHigh, false},
		{"deal_score", SortDealScore, false},
		{"random", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSortMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseSortMode(%q) = %q, %v; want %q, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
