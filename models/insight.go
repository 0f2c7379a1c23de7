package models

// InsightReport holds the computed analytics over one scored batch.
type InsightReport struct {
	TotalListings    int
	PricedListings   int
	Benchmark        *float64
	AveragePrice     float64
	MinPrice         float64
	MaxPrice         float64
	TopDeals         []Listing
	LabelCounts      map[DealLabel]int
	ConfidenceCounts map[Confidence]int
	ListingsBySource map[string]int
}
