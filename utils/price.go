package utils

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// priceRegexp captures the first numeric amount in free text, with optional
// thousands separators and decimals.
var priceRegexp = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// ParseAmount converts a loosely typed upstream value into a price. Strings
// and numbers are accepted; booleans, NaN, infinities, negatives and garbage
// come back as nil.
func ParseAmount(v any) *float64 {
	var f float64
	switch val := v.(type) {
	case nil, bool:
		return nil
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil
	}
	return &f
}

// ParsePriceText extracts a price from display text such as "$1,299.99" or
// "US $450.00 + shipping".
func ParsePriceText(raw string) *float64 {
	match := priceRegexp.FindString(raw)
	if match == "" {
		return nil
	}
	return ParseAmount(strings.ReplaceAll(match, ",", ""))
}

// FormatPrice renders a price as "$1,234.56", or "N/A" when absent.
func FormatPrice(p *float64) string {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return "N/A"
	}
	fixed := decimal.NewFromFloat(*p).StringFixed(2)

	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + "$" + b.String() + "." + frac
}

// FormatPercent renders a signed percentage with one decimal, or "N/A".
func FormatPercent(p *float64) string {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return "N/A"
	}
	s := decimal.NewFromFloat(*p).StringFixed(1)
	if *p > 0 {
		s = "+" + s
	}
	return s + "%"
}
