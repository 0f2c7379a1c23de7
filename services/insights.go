package services

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"fretscout/models"
	"fretscout/utils"
)

// topDeals is how many listings the report ranks.
const topDeals = 5

// InsightService summarizes a scored batch for terminal output.
type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &InsightService{logger: logger}
}

// Generate computes price statistics, label and confidence counts and the
// best scored deals. Input order is not changed.
func (s *InsightService) Generate(listings []models.Listing) *models.InsightReport {
	report := &models.InsightReport{
		LabelCounts:      make(map[models.DealLabel]int),
		ConfidenceCounts: make(map[models.Confidence]int),
		ListingsBySource: make(map[string]int),
	}

	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)
	if b, ok := Benchmark(listings); ok {
		report.Benchmark = &b
	}

	var total float64
	var scored []models.Listing
	for _, l := range listings {
		if validPrice(l.Price) {
			p := *l.Price
			if report.PricedListings == 0 || p < report.MinPrice {
				report.MinPrice = p
			}
			if report.PricedListings == 0 || p > report.MaxPrice {
				report.MaxPrice = p
			}
			total += p
			report.PricedListings++
		}
		if l.Deal != nil {
			report.LabelCounts[l.Deal.Label]++
			scored = append(scored, l)
		}
		if l.Confidence != "" {
			report.ConfidenceCounts[l.Confidence]++
		}
		source := l.Source
		if source == "" {
			source = "unknown"
		}
		report.ListingsBySource[source]++
	}

	if report.PricedListings > 0 {
		report.AveragePrice = round2(total / float64(report.PricedListings))
		report.MinPrice = round2(report.MinPrice)
		report.MaxPrice = round2(report.MaxPrice)
	}

	ranked := SortListings(scored, SortDealScore)
	if len(ranked) > topDeals {
		ranked = ranked[:topDeals]
	}
	report.TopDeals = ranked

	s.logger.Debug("[insights] %d listings, %d priced, %d scored",
		report.TotalListings, report.PricedListings, len(scored))
	return report
}

// Print writes the report to stdout.
func (s *InsightService) Print(r *models.InsightReport) {
	s.Fprint(os.Stdout, r)
}

// Fprint writes the report with ANSI styling to w.
func (s *InsightService) Fprint(w io.Writer, r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  🎸 FRETSCOUT SEARCH INSIGHTS\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Total listings  : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Fprintf(w, "  Priced listings : \033[1m%d\033[0m\n", r.PricedListings)
	fmt.Fprintf(w, "  Median price    : \033[1m%s\033[0m\n", utils.FormatPrice(r.Benchmark))
	fmt.Fprintln(w)

	// Price Stats
	fmt.Fprintf(w, "\033[1;33m  Price Statistics\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.PricedListings > 0 {
		fmt.Fprintf(w, "  Average price : \033[1;32m%s\033[0m\n", utils.FormatPrice(&r.AveragePrice))
		fmt.Fprintf(w, "  Minimum price : \033[1;32m%s\033[0m\n", utils.FormatPrice(&r.MinPrice))
		fmt.Fprintf(w, "  Maximum price : \033[1;32m%s\033[0m\n", utils.FormatPrice(&r.MaxPrice))
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	// Deal labels
	fmt.Fprintf(w, "\033[1;33m  Deal Labels\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.LabelCounts) == 0 {
		fmt.Fprintf(w, "  Not enough priced listings to score\n")
	} else {
		for _, label := range []models.DealLabel{models.DealGood, models.DealFair, models.DealHigh} {
			fmt.Fprintf(w, "  %-6s %s (%d)\n", label, strings.Repeat("█", r.LabelCounts[label]), r.LabelCounts[label])
		}
	}
	fmt.Fprintln(w)

	// Top deals
	fmt.Fprintf(w, "\033[1;33m  Top %d Deals\033[0m\n", topDeals)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.TopDeals) == 0 {
		fmt.Fprintf(w, "  No scored listings\n")
	} else {
		for i, l := range r.TopDeals {
			fmt.Fprintf(w, "  \033[1m%d.\033[0m %-40s \033[1;32m%5.1f\033[0m %s\n",
				i+1, truncate(l.Title, 38), l.Deal.Score, utils.FormatPrice(l.Price))
		}
	}
	fmt.Fprintln(w)

	// Listings by source
	fmt.Fprintf(w, "\033[1;33m  Listings by Source\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.ListingsBySource) == 0 {
		fmt.Fprintf(w, "  No listings\n")
	} else {
		type sourceCount struct {
			source string
			count  int
		}
		var counts []sourceCount
		for src, cnt := range r.ListingsBySource {
			counts = append(counts, sourceCount{src, cnt})
		}
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].count != counts[j].count {
				return counts[i].count > counts[j].count
			}
			return counts[i].source < counts[j].source
		})
		for _, sc := range counts {
			fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(sc.source, 28), strings.Repeat("█", sc.count), sc.count)
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
