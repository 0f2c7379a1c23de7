package scraper

import (
	"sort"
	"strconv"
	"strings"
)

// Categories maps the marketplace categories offered to users to their
// eBay category ids.
var Categories = map[string]string{
	"All guitars & basses": "3858",
	"Electric guitars":     "33034",
	"Acoustic guitars":     "33021",
	"Bass guitars":         "4713",
}

// ResolveCategory accepts a category name (case-insensitive) or a numeric
// category id and returns the id. Blank input resolves to no category.
func ResolveCategory(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", true
	}
	for name, id := range Categories {
		if strings.EqualFold(name, s) {
			return id, true
		}
	}
	if _, err := strconv.ParseUint(s, 10, 64); err == nil {
		return s, true
	}
	return "", false
}

// CategoryNames lists the known category names alphabetically.
func CategoryNames() []string {
	names := make([]string, 0, len(Categories))
	for name := range Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
