package services

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"fretscout/models"
)

var (
	// repeatedSlashes collapses runs of "/" in URL paths
	repeatedSlashes = regexp.MustCompile(`/{2,}`)

	// trackingParams are query keys that never identify a listing
	trackingParams = map[string]struct{}{
		"gclid":  {},
		"fbclid": {},
		"mc_cid": {},
		"mc_eid": {},
		"yclid":  {},
	}
)

// fingerprintSeparator joins fallback fingerprint fields. It cannot appear in
// normalized text, so distinct field splits never collide.
const fingerprintSeparator = "\x1f"

// AssignIdentity returns l with a deterministic ListingID. A listing that
// already has a non-blank id is returned unchanged.
func AssignIdentity(l models.Listing) models.Listing {
	if strings.TrimSpace(l.ListingID) != "" {
		return l
	}

	switch {
	case present(l.Source) && present(l.SourceItemID):
		return l.WithID(l.Source + ":" + l.SourceItemID)
	case present(l.URL):
		return l.WithID("url:" + hashText(normalizeURL(l.URL)))
	default:
		return l.WithID("hash:" + hashText(fallbackFingerprint(l)))
	}
}

// AssignIdentities maps AssignIdentity over listings, preserving order.
func AssignIdentities(listings []models.Listing) []models.Listing {
	out := make([]models.Listing, len(listings))
	for i, l := range listings {
		out[i] = AssignIdentity(l)
	}
	return out
}

// NewListingsFromRaw is the ingestion boundary: it builds listings from
// source records and assigns their identities.
func NewListingsFromRaw(raw []models.RawListing) []models.Listing {
	out := make([]models.Listing, len(raw))
	for i, r := range raw {
		out[i] = AssignIdentity(models.NewListing(r))
	}
	return out
}

// normalizeURL canonicalises a listing URL for hashing. Scheme and host are
// lowercased, path and query keep their case. Tracking parameters and the
// fragment are dropped; the remaining query pairs keep their raw form and order.
func normalizeURL(raw string) string {
	cleaned := strings.TrimSpace(raw)
	u, err := url.Parse(cleaned)
	if err != nil {
		return cleaned
	}

	path := repeatedSlashes.ReplaceAllString(u.EscapedPath(), "/")
	if path != "/" && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}

	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(strings.ToLower(u.Scheme))
		b.WriteByte(':')
	}
	if u.Host != "" || u.User != nil {
		b.WriteString("//")
		if u.User != nil {
			b.WriteString(strings.ToLower(u.User.String()))
			b.WriteByte('@')
		}
		b.WriteString(strings.ToLower(u.Host))
	}
	if u.Opaque != "" {
		b.WriteString(u.Opaque)
	} else {
		b.WriteString(path)
	}
	if q := filterQuery(u.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String()
}

// filterQuery drops tracking pairs from a raw query string.
func filterQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	kept := make([]string, 0, strings.Count(rawQuery, "&")+1)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		key = strings.ToLower(key)
		if strings.HasPrefix(key, "utm_") {
			continue
		}
		if _, tracking := trackingParams[key]; tracking {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

// normalizeText trims, lowercases and collapses internal whitespace.
func normalizeText(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), unicode.IsSpace)
	return strings.Join(fields, " ")
}

// fallbackFingerprint builds a content signature for listings with neither a
// source id nor a URL.
func fallbackFingerprint(l models.Listing) string {
	texts := []string{
		l.Title,
		l.Source,
		l.SourceItemID,
		l.Seller,
		l.Location,
		l.Condition,
		l.Currency,
		l.URL,
	}
	parts := make([]string, 0, len(texts)+1)
	for _, t := range texts {
		if strings.HasPrefix(t, "http") {
			parts = append(parts, normalizeURL(t))
		} else {
			parts = append(parts, normalizeText(t))
		}
	}

	price := ""
	if l.Price != nil {
		price = strconv.FormatFloat(*l.Price, 'f', -1, 64)
	}
	parts = append(parts, price)

	return strings.Join(parts, fingerprintSeparator)
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}
