package ebay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"fretscout/scraper"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type failingToken struct{ err error }

func (f failingToken) Token(context.Context) (string, error) { return "", f.err }

const searchFixture = `{
  "total": 3,
  "itemSummaries": [
    {
      "itemId": "v1|111|0",
      "title": "Fender Stratocaster",
      "price": {"value": "1234.50", "currency": "USD"},
      "shippingOptions": [{"shippingCost": {"value": "25.00", "currency": "USD"}}],
      "condition": "Used",
      "conditionId": "3000",
      "itemWebUrl": "https://www.ebay.com/itm/111",
      "image": {"imageUrl": "https://i.ebayimg.com/111.jpg"},
      "seller": {"username": "guitarshop"},
      "itemLocation": {"country": "US", "postalCode": "97201"},
      "itemCreationDate": "2026-01-01T00:00:00.000Z",
      "itemEndDate": "2026-02-01T00:00:00.000Z"
    },
    {
      "itemId": "v1|222|0",
      "price": {"value": true}
    },
    {
      "title": "no id, dropped"
    }
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]ClientOption{
		WithSearchURL(srv.URL),
		WithBackoff(time.Millisecond, time.Millisecond, time.Millisecond),
	}, opts...)
	c, err := NewClient(Production, staticToken("tok"), opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestSearchNormalizesItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization: got %q", got)
		}
		if got := r.Header.Get("X-EBAY-C-MARKETPLACE-ID"); got != "EBAY_GB" {
			t.Errorf("marketplace: got %q", got)
		}
		if got := r.Header.Get("Accept-Language"); got != "en-GB" {
			t.Errorf("accept-language: got %q", got)
		}
		q := r.URL.Query()
		if q.Get("q") != "strat" || q.Get("limit") != "50" || q.Get("offset") != "0" {
			t.Errorf("query: got %v", q)
		}
		fmt.Fprint(w, searchFixture)
	}, WithMarketplace("EBAY_GB"), WithAcceptLanguage("en-GB"))

	got, err := c.Search(context.Background(), "strat", scraper.Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len: got %d, want 2 (item without id dropped)", len(got))
	}

	first := got[0]
	if first.ListingID != "ebay:v1|111|0" || first.Source != "ebay" || first.SourceItemID != "v1|111|0" {
		t.Errorf("identity fields: %+v", first)
	}
	if first.Price == nil || *first.Price != 1234.50 {
		t.Errorf("price: got %v", first.Price)
	}
	if first.Shipping == nil || *first.Shipping != 25 {
		t.Errorf("shipping: got %v", first.Shipping)
	}
	if first.Location != "US 97201" || first.Seller != "guitarshop" || first.ConditionID != "3000" {
		t.Errorf("detail fields: %+v", first)
	}
	if first.URL != "https://www.ebay.com/itm/111" || first.ImageURL != "https://i.ebayimg.com/111.jpg" {
		t.Errorf("urls: %+v", first)
	}

	second := got[1]
	if second.Title != "Untitled" {
		t.Errorf("title: got %q, want Untitled", second.Title)
	}
	if second.Price != nil || second.Shipping != nil {
		t.Errorf("boolean price should be absent, got price=%v shipping=%v", second.Price, second.Shipping)
	}
}

func TestSearchRetriesRetryableStatus(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"total":0,"itemSummaries":[]}`)
	})

	got, err := c.Search(context.Background(), "strat", scraper.Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d listings, want 0", len(got))
	}
	if calls != 3 {
		t.Errorf("attempts: got %d, want 3", calls)
	}
}

func TestSearchExhaustedRetriesIsTransient(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Search(context.Background(), "strat", scraper.Filters{})
	if !scraper.IsTransient(err) {
		t.Errorf("got %v, want transient fetch error", err)
	}
	if calls != 4 {
		t.Errorf("attempts: got %d, want 4", calls)
	}
}

func TestSearchAuthFailureIsFatal(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"errors":[{"message":"invalid token"}]}`)
	})

	_, err := c.Search(context.Background(), "strat", scraper.Filters{})
	var fe *scraper.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("got %T, want *scraper.FetchError", err)
	}
	if fe.Transient {
		t.Error("401 should not be transient")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("want wrapped 401 APIError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("attempts: got %d, want 1", calls)
	}
}

func TestSearchMissingCredentials(t *testing.T) {
	c, err := NewClient(Sandbox, failingToken{ErrMissingCredentials})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Search(context.Background(), "strat", scraper.Filters{})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("got %v, want ErrMissingCredentials", err)
	}
	if scraper.IsTransient(err) {
		t.Error("missing credentials should not be transient")
	}
}

func TestSearchMalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"itemSummaries": [`)
	})
	if _, err := c.Search(context.Background(), "strat", scraper.Filters{}); err == nil {
		t.Error("expected decode error")
	}
}

func TestBuildSearchURL(t *testing.T) {
	c, _ := NewClient(Production, staticToken("tok"))
	minP, maxP := 100.0, 1500.5

	tests := []struct {
		name    string
		filters scraper.Filters
		want    map[string]string
	}{
		{
			name:    "defaults",
			filters: scraper.Filters{},
			want:    map[string]string{"limit": "50", "offset": "0", "category_ids": "", "filter": ""},
		},
		{
			name:    "clamped limit",
			filters: scraper.Filters{Limit: 500, Offset: -3},
			want:    map[string]string{"limit": "200", "offset": "0"},
		},
		{
			name:    "categories skip blanks",
			filters: scraper.Filters{CategoryIDs: []string{"33034", " ", "4713"}},
			want:    map[string]string{"category_ids": "33034,4713"},
		},
		{
			name:    "price range",
			filters: scraper.Filters{MinPrice: &minP, MaxPrice: &maxP},
			want:    map[string]string{"filter": "price:[100.00..1500.50]"},
		},
		{
			name:    "open upper bound",
			filters: scraper.Filters{MinPrice: &minP},
			want:    map[string]string{"filter": "price:[100.00..]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(c.buildSearchURL("les paul", tt.filters))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			q := u.Query()
			if q.Get("q") != "les paul" {
				t.Errorf("q: got %q", q.Get("q"))
			}
			for k, v := range tt.want {
				if got := q.Get(k); got != v {
					t.Errorf("%s: got %q, want %q", k, got, v)
				}
			}
		})
	}
}

func TestAPIErrorIsRetryable(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !(&APIError{StatusCode: code}).IsRetryable() {
			t.Errorf("%d should be retryable", code)
		}
	}
	for _, code := range []int{400, 401, 403, 404} {
		if (&APIError{StatusCode: code}).IsRetryable() {
			t.Errorf("%d should not be retryable", code)
		}
	}
}

func TestNewClientRejectsUnknownEnv(t *testing.T) {
	if _, err := NewClient(Env("staging"), staticToken("tok")); err == nil {
		t.Error("expected error for unknown env")
	}
}
