package ebay

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"fretscout/models"
	"fretscout/scraper"
	"fretscout/utils"
)

const (
	sourceName   = "ebay"
	defaultLimit = 50
	maxLimit     = 200
)

type searchResponse struct {
	Total         int           `json:"total"`
	ItemSummaries []itemSummary `json:"itemSummaries"`
}

type amount struct {
	Value    any    `json:"value"`
	Currency string `json:"currency"`
}

type itemSummary struct {
	ItemID          string `json:"itemId"`
	Title           string `json:"title"`
	Price           amount `json:"price"`
	ShippingOptions []struct {
		ShippingCost amount `json:"shippingCost"`
	} `json:"shippingOptions"`
	Condition   string `json:"condition"`
	ConditionID string `json:"conditionId"`
	ItemWebURL  string `json:"itemWebUrl"`
	Image       struct {
		ImageURL string `json:"imageUrl"`
	} `json:"image"`
	Seller struct {
		Username string `json:"username"`
	} `json:"seller"`
	ItemLocation struct {
		Country    string `json:"country"`
		PostalCode string `json:"postalCode"`
	} `json:"itemLocation"`
	ItemCreationDate string `json:"itemCreationDate"`
	ItemEndDate      string `json:"itemEndDate"`
}

func (c *Client) Name() string { return sourceName }

// Search queries item_summary/search and maps the results to raw listings.
// Failures are returned as *scraper.FetchError.
func (c *Client) Search(ctx context.Context, query string, filters scraper.Filters) ([]models.RawListing, error) {
	fullURL := c.buildSearchURL(query, filters)
	c.logger.Debug("[ebay] GET %s", fullURL)

	body, err := c.getWithRetry(ctx, fullURL)
	if err != nil {
		return nil, &scraper.FetchError{Source: sourceName, Transient: isTransient(err), Err: err}
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &scraper.FetchError{Source: sourceName, Err: err}
	}

	listings := normalizeItems(resp.ItemSummaries)
	c.logger.Info("[ebay] %q returned %d of %d items", query, len(listings), resp.Total)
	return listings, nil
}

func (c *Client) buildSearchURL(query string, f scraper.Filters) string {
	limit := f.Limit
	if limit == 0 {
		limit = defaultLimit
	}
	limit = max(1, min(limit, maxLimit))
	offset := max(0, f.Offset)

	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	var categories []string
	for _, id := range f.CategoryIDs {
		if id = strings.TrimSpace(id); id != "" {
			categories = append(categories, id)
		}
	}
	if len(categories) > 0 {
		params.Set("category_ids", strings.Join(categories, ","))
	}

	if f.MinPrice != nil || f.MaxPrice != nil {
		params.Set("filter", "price:["+formatBound(f.MinPrice)+".."+formatBound(f.MaxPrice)+"]")
	}

	return c.searchURL + "?" + params.Encode()
}

func formatBound(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', 2, 64)
}

func normalizeItems(items []itemSummary) []models.RawListing {
	out := make([]models.RawListing, 0, len(items))
	for _, it := range items {
		if it.ItemID == "" {
			continue
		}

		title := it.Title
		if title == "" {
			title = "Untitled"
		}

		var shipping *float64
		if len(it.ShippingOptions) > 0 {
			shipping = utils.ParseAmount(it.ShippingOptions[0].ShippingCost.Value)
		}

		out = append(out, models.RawListing{
			ListingID:        "ebay:" + it.ItemID,
			Source:           sourceName,
			SourceItemID:     it.ItemID,
			Title:            title,
			Price:            utils.ParseAmount(it.Price.Value),
			Shipping:         shipping,
			Currency:         it.Price.Currency,
			Condition:        it.Condition,
			ConditionID:      it.ConditionID,
			Location:         formatLocation(it.ItemLocation.Country, it.ItemLocation.PostalCode),
			Seller:           it.Seller.Username,
			ImageURL:         it.Image.ImageURL,
			URL:              it.ItemWebURL,
			ItemCreationDate: it.ItemCreationDate,
			ItemEndDate:      it.ItemEndDate,
		})
	}
	return out
}

func formatLocation(country, postal string) string {
	if country != "" && postal != "" {
		return country + " " + postal
	}
	if country != "" {
		return country
	}
	return postal
}

// isTransient classifies a search failure. Retryable HTTP statuses and
// connection failures are transient; auth and other 4xx are not.
func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	if errors.Is(err, ErrMissingCredentials) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
