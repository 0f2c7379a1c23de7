package models

import (
	"math"
	"strings"
	"time"
)

// RawListing is a record as emitted by a listing source, before identity
// assignment. Only Title and URL are expected; every other field may be empty.
type RawListing struct {
	ListingID        string
	Source           string
	SourceItemID     string
	Title            string
	Price            *float64
	Shipping         *float64
	Currency         string
	Condition        string
	ConditionID      string
	Location         string
	Seller           string
	ImageURL         string
	URL              string
	ItemCreationDate string
	ItemEndDate      string
}

// DealLabel buckets a listing's price relative to the batch benchmark.
type DealLabel string

const (
	DealGood DealLabel = "Good"
	DealFair DealLabel = "Fair"
	DealHigh DealLabel = "High"
)

// Confidence grades how much of a listing's key data is present.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// Rank orders confidence levels for sorting: High first, unset last.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 0
	case ConfidenceMedium:
		return 1
	case ConfidenceLow:
		return 2
	default:
		return 3
	}
}

// DealAssessment explains a computed deal label. It is either fully present
// on a listing or nil.
type DealAssessment struct {
	Label          DealLabel `json:"label"`
	Score          float64   `json:"score"`
	ReferencePrice float64   `json:"reference_price"`
	PercentDiff    float64   `json:"percent_diff"`
}

// Listing is one marketplace item as it flows through the pipeline. Stages
// never mutate a Listing in place; they derive copies with the With* helpers.
type Listing struct {
	ListingID         string          `json:"listing_id"`
	Source            string          `json:"source,omitempty"`
	SourceItemID      string          `json:"source_item_id,omitempty"`
	Title             string          `json:"title"`
	Price             *float64        `json:"price"`
	Shipping          *float64        `json:"shipping"`
	Currency          string          `json:"currency,omitempty"`
	Condition         string          `json:"condition,omitempty"`
	ConditionID       string          `json:"condition_id,omitempty"`
	Location          string          `json:"location,omitempty"`
	Seller            string          `json:"seller,omitempty"`
	ImageURL          string          `json:"image_url,omitempty"`
	URL               string          `json:"url"`
	ItemCreationDate  string          `json:"item_creation_date,omitempty"`
	ItemEndDate       string          `json:"item_end_date,omitempty"`
	Deal              *DealAssessment `json:"deal"`
	Confidence        Confidence      `json:"confidence,omitempty"`
	ConfidenceReasons []string        `json:"confidence_reasons,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// NewListing builds a Listing from a source record. Prices are copied so the
// listing never aliases the raw record.
func NewListing(raw RawListing) Listing {
	return Listing{
		ListingID:        strings.TrimSpace(raw.ListingID),
		Source:           raw.Source,
		SourceItemID:     raw.SourceItemID,
		Title:            raw.Title,
		Price:            copyFloat(raw.Price),
		Shipping:         copyFloat(raw.Shipping),
		Currency:         raw.Currency,
		Condition:        raw.Condition,
		ConditionID:      raw.ConditionID,
		Location:         raw.Location,
		Seller:           raw.Seller,
		ImageURL:         raw.ImageURL,
		URL:              raw.URL,
		ItemCreationDate: raw.ItemCreationDate,
		ItemEndDate:      raw.ItemEndDate,
		CreatedAt:        time.Now(),
	}
}

// AllInPrice is price plus shipping. Missing or non-finite shipping counts as
// zero; a missing or non-finite price, or a total that overflows, yields nil.
func (l Listing) AllInPrice() *float64 {
	if !finite(l.Price) {
		return nil
	}
	total := *l.Price
	if finite(l.Shipping) {
		total += *l.Shipping
	}
	if math.IsInf(total, 0) {
		return nil
	}
	return &total
}

func finite(p *float64) bool {
	return p != nil && !math.IsNaN(*p) && !math.IsInf(*p, 0)
}

// WithID returns a copy of l carrying id.
func (l Listing) WithID(id string) Listing {
	l.ListingID = id
	return l
}

// WithDeal returns a copy of l carrying deal (nil clears it).
func (l Listing) WithDeal(deal *DealAssessment) Listing {
	if deal != nil {
		d := *deal
		deal = &d
	}
	l.Deal = deal
	return l
}

// WithConfidence returns a copy of l carrying the confidence grade and reasons.
func (l Listing) WithConfidence(c Confidence, reasons []string) Listing {
	l.Confidence = c
	l.ConfidenceReasons = append([]string(nil), reasons...)
	return l
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
