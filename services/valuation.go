package services

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"fretscout/models"
)

// minPricedForBenchmark is the smallest sample a median is trusted on.
const minPricedForBenchmark = 3

var (
	hundred      = decimal.NewFromInt(100)
	goodFraction = decimal.RequireFromString("0.90")
	highFraction = decimal.RequireFromString("1.10")
)

// Score annotates each listing with a deal assessment relative to the median
// price of the batch, and a confidence grade. Shipping is never consulted.
// Output has the same length and order as the input.
func Score(listings []models.Listing) []models.Listing {
	benchmark, ok := Benchmark(listings)

	out := make([]models.Listing, len(listings))
	for i, l := range listings {
		var deal *models.DealAssessment
		if ok && validPrice(l.Price) {
			deal = assess(*l.Price, benchmark)
		}
		conf, reasons := confidence(l)
		out[i] = l.WithDeal(deal).WithConfidence(conf, reasons)
	}
	return out
}

// Benchmark returns the median price of the batch. It reports false when
// fewer than three listings carry a price or the median is not positive.
func Benchmark(listings []models.Listing) (float64, bool) {
	prices := make([]float64, 0, len(listings))
	for _, l := range listings {
		if validPrice(l.Price) {
			prices = append(prices, *l.Price)
		}
	}
	if len(prices) < minPricedForBenchmark {
		return 0, false
	}

	sort.Float64s(prices)
	mid := len(prices) / 2
	median := prices[mid]
	if len(prices)%2 == 0 {
		median = prices[mid-1] + (prices[mid]-prices[mid-1])/2
	}
	if median <= 0 {
		return 0, false
	}
	return median, true
}

// EstimateValue is the market value estimate shown next to a listing. No
// valuation model exists yet.
func EstimateValue(models.Listing) string {
	return "N/A"
}

func assess(price, benchmark float64) *models.DealAssessment {
	if math.IsInf(price, 0) || math.IsInf(benchmark, 0) || math.IsNaN(price) || math.IsNaN(benchmark) {
		return nil
	}
	p := decimal.NewFromFloat(price)
	b := decimal.NewFromFloat(benchmark)

	pctDiff := p.Sub(b).Div(b).Mul(hundred)
	score := hundred.Sub(pctDiff).Round(1)
	if score.IsNegative() {
		score = decimal.Zero
	}
	if score.GreaterThan(hundred) {
		score = hundred
	}

	label := models.DealHigh
	switch {
	case p.LessThanOrEqual(b.Mul(goodFraction)):
		label = models.DealGood
	case p.LessThan(b.Mul(highFraction)):
		label = models.DealFair
	}

	pd, _ := pctDiff.Float64()
	sc, _ := score.Float64()
	return &models.DealAssessment{
		Label:          label,
		Score:          sc,
		ReferencePrice: benchmark,
		PercentDiff:    pd,
	}
}

func confidence(l models.Listing) (models.Confidence, []string) {
	hasTitle := strings.TrimSpace(l.Title) != ""
	hasCondition := strings.TrimSpace(l.Condition) != ""
	hasPrice := validPrice(l.Price)

	var reasons []string
	if !hasTitle {
		reasons = append(reasons, "missing title")
	}
	if !hasCondition {
		reasons = append(reasons, "missing condition")
	}
	if !hasPrice {
		reasons = append(reasons, "missing price")
	}
	if len(reasons) == 0 {
		reasons = []string{"complete listing details"}
	}

	switch {
	case hasTitle && hasCondition && hasPrice:
		return models.ConfidenceHigh, reasons
	case hasTitle && hasPrice:
		return models.ConfidenceMedium, reasons
	default:
		return models.ConfidenceLow, reasons
	}
}

// validPrice reports whether p is a usable price: present, finite and not
// negative.
func validPrice(p *float64) bool {
	return p != nil && !math.IsNaN(*p) && !math.IsInf(*p, 0) && *p >= 0
}
