// Package browser is a listing source that drives headless Chrome over a
// marketplace search page described by CSS selectors.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"fretscout/config"
	"fretscout/models"
	"fretscout/scraper"
	"fretscout/utils"
)

// queryPlaceholder marks where the escaped query goes in the search URL.
const queryPlaceholder = "{query}"

const (
	defaultCardSelector  = `[data-testid="listing-card"], li.s-item, article`
	defaultTitleSelector = `h2, h3, [class*="title"]`
	defaultPriceSelector = `[class*="price"]`
	defaultLinkSelector  = `a[href]`
	defaultNextSelector  = `a[aria-label="Next"], a[rel="next"]`
)

// selectors is the set of CSS selectors injected into the page scripts.
type selectors struct {
	Card  string `json:"card"`
	Title string `json:"title"`
	Price string `json:"price"`
	Link  string `json:"link"`
	Next  string `json:"next"`
}

// card is one result as read off the page.
type card struct {
	Title string `json:"title"`
	Price string `json:"price"`
	URL   string `json:"url"`
}

// Scraper implements scraper.Source on top of chromedp.
type Scraper struct {
	cfg    config.BrowserConfig
	sel    selectors
	logger *utils.Logger
	retry  *utils.RetryConfig

	concurrency int
	rateLimitMs int
}

// New creates a browser Scraper. Blank selectors fall back to generic ones.
func New(cfg config.BrowserConfig, concurrency, rateLimitMs, maxRetries int, logger *utils.Logger) *Scraper {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Scraper{
		cfg:    cfg,
		sel:    selectorsFrom(cfg),
		logger: logger,
		retry: &utils.RetryConfig{
			MaxAttempts: maxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
		concurrency: concurrency,
		rateLimitMs: rateLimitMs,
	}
}

func (s *Scraper) Name() string {
	if s.cfg.SourceName != "" {
		return s.cfg.SourceName
	}
	return "web"
}

// Search loads up to PagesToScrape result pages, following the next link,
// and enriches cards that showed no price from their detail pages.
func (s *Scraper) Search(ctx context.Context, query string, filters scraper.Filters) ([]models.RawListing, error) {
	startURL, err := buildSearchURL(s.cfg.SearchURL, query)
	if err != nil {
		return nil, &scraper.FetchError{Source: s.Name(), Err: err}
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = s.cfg.PagesToScrape * s.cfg.ListingsPerPage
	}

	chromeBin := s.cfg.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	s.logger.Info("[browser] Starting %s scrape for %q (binary: %s)", s.Name(), query, chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	seen := utils.NewKeySet()
	var listings []models.RawListing

	currentURL := startURL
	for page := 1; page <= s.cfg.PagesToScrape && len(listings) < limit; page++ {
		s.logger.Info("[browser] Scraping page %d: %s", page, currentURL)

		cards, nextURL, err := s.scrapePage(browserCtx, currentURL, page)
		if err != nil {
			if page == 1 {
				return nil, &scraper.FetchError{Source: s.Name(), Transient: !isCanceled(err), Err: err}
			}
			s.logger.Error("[browser] Page %d failed: %v", page, err)
			break
		}
		if len(cards) == 0 {
			s.logger.Warn("[browser] Page %d returned 0 cards, stopping", page)
			break
		}

		pageListings := make([]models.RawListing, 0, len(cards))
		for _, c := range cards {
			raw, ok := toRawListing(c, s.Name(), currentURL)
			if !ok {
				continue
			}
			if !seen.Add(raw.URL) {
				s.logger.Debug("[browser] Skipping duplicate: %s", raw.URL)
				continue
			}
			pageListings = append(pageListings, raw)
		}

		s.enrichPrices(browserCtx, pageListings)
		listings = append(listings, pageListings...)
		s.logger.Info("[browser] Page %d done, %d listings so far", page, len(listings))

		if nextURL == "" {
			break
		}
		currentURL = resolveURL(currentURL, nextURL)
	}

	if len(listings) > limit {
		listings = listings[:limit]
	}
	s.logger.Info("[browser] Scrape complete, %d raw listings", len(listings))
	return listings, nil
}

// scrapePage loads a results page and extracts cards and the next-page link.
func (s *Scraper) scrapePage(browserCtx context.Context, pageURL string, pageNum int) ([]card, string, error) {
	var cards []card
	var nextURL string

	err := s.retry.DoContext(browserCtx, fmt.Sprintf("scrape-page-%d", pageNum), func(ctx context.Context) error {
		tabCtx, cancel := chromedp.NewContext(ctx)
		defer cancel()

		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, 90*time.Second)
		defer cancelTimeout()

		var found []card
		var next string
		err := chromedp.Run(tabCtx,
			chromedp.Navigate(pageURL),
			chromedp.Sleep(4*time.Second),

			// Scroll to load lazy cards
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2)`, nil),
			chromedp.Sleep(time.Second),
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(time.Second),

			chromedp.Evaluate(cardScript(s.sel, s.cfg.ListingsPerPage), &found),
			chromedp.Evaluate(nextScript(s.sel), &next),
		)
		if err != nil {
			return fmt.Errorf("chromedp page scrape: %w", err)
		}

		cards, nextURL = found, next
		return nil
	})

	s.logger.Debug("[browser] Page %d, found %d cards", pageNum, len(cards))
	return cards, nextURL, err
}

// enrichPrices visits detail pages for listings that showed no price. Each
// job writes only its own element.
func (s *Scraper) enrichPrices(browserCtx context.Context, listings []models.RawListing) {
	pool := utils.NewWorkerPool(s.concurrency, s.rateLimitMs)
	for i := range listings {
		if listings[i].Price != nil {
			continue
		}
		pool.SubmitContext(browserCtx, func(ctx context.Context) {
			text, err := s.scrapeDetailPrice(ctx, listings[i].URL)
			if err != nil {
				s.logger.Warn("[browser] Detail page failed for %s: %v", listings[i].URL, err)
				return
			}
			if price := utils.ParsePriceText(text); price != nil {
				listings[i].Price = price
				s.logger.Debug("[browser] Enriched price for %s", listings[i].Title)
			}
		})
	}
	pool.Wait()
}

func (s *Scraper) scrapeDetailPrice(ctx context.Context, pageURL string) (string, error) {
	var text string
	err := s.retry.DoContext(ctx, "detail-page", func(ctx context.Context) error {
		tabCtx, cancel := chromedp.NewContext(ctx)
		defer cancel()

		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, 60*time.Second)
		defer cancelTimeout()

		if err := chromedp.Run(tabCtx,
			chromedp.Navigate(pageURL),
			chromedp.Sleep(3*time.Second),
			chromedp.Evaluate(detailPriceScript(s.sel), &text),
		); err != nil {
			return fmt.Errorf("chromedp detail extract: %w", err)
		}
		return nil
	})
	return text, err
}

func selectorsFrom(cfg config.BrowserConfig) selectors {
	return selectors{
		Card:  orDefault(cfg.CardSelector, defaultCardSelector),
		Title: orDefault(cfg.TitleSelector, defaultTitleSelector),
		Price: orDefault(cfg.PriceSelector, defaultPriceSelector),
		Link:  orDefault(cfg.LinkSelector, defaultLinkSelector),
		Next:  orDefault(cfg.NextSelector, defaultNextSelector),
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// buildSearchURL substitutes the escaped query into the template. Without a
// placeholder the query is added as the q parameter.
func buildSearchURL(template, query string) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", errors.New("browser: search url is not configured")
	}
	if strings.Contains(template, queryPlaceholder) {
		return strings.ReplaceAll(template, queryPlaceholder, url.QueryEscape(query)), nil
	}

	u, err := url.Parse(template)
	if err != nil {
		return "", fmt.Errorf("browser: parse search url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// toRawListing maps a card to a RawListing. Cards without a link are
// dropped; relative links are resolved against the page URL.
func toRawListing(c card, source, pageURL string) (models.RawListing, bool) {
	link := strings.TrimSpace(c.URL)
	if link == "" {
		return models.RawListing{}, false
	}
	title := strings.Join(strings.Fields(c.Title), " ")
	if title == "" {
		title = "Untitled"
	}
	return models.RawListing{
		Source: source,
		Title:  title,
		Price:  utils.ParsePriceText(c.Price),
		URL:    resolveURL(pageURL, link),
	}, true
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func cardScript(sel selectors, limit int) string {
	cfg, _ := json.Marshal(sel)
	return fmt.Sprintf(`
		(function() {
			var sel = %s;
			var limit = %d;
			var results = [];
			var seen = {};
			var cards = document.querySelectorAll(sel.card);
			for (var i = 0; i < cards.length && results.length < limit; i++) {
				var c = cards[i];
				var linkEl = c.matches(sel.link) ? c : c.querySelector(sel.link);
				var href = linkEl ? linkEl.getAttribute('href') : '';
				if (!href || seen[href]) continue;
				seen[href] = true;
				var titleEl = c.querySelector(sel.title);
				var priceEl = c.querySelector(sel.price);
				results.push({
					title: titleEl ? titleEl.innerText.trim() : '',
					price: priceEl ? priceEl.innerText.trim() : '',
					url:   href
				});
			}
			return results;
		})()
	`, cfg, limit)
}

func nextScript(sel selectors) string {
	cfg, _ := json.Marshal(sel.Next)
	return fmt.Sprintf(`
		(function() {
			var el = document.querySelector(%s);
			return el && el.getAttribute('href') ? el.getAttribute('href') : '';
		})()
	`, cfg)
}

func detailPriceScript(sel selectors) string {
	cfg, _ := json.Marshal(sel.Price)
	return fmt.Sprintf(`
		(function() {
			var el = document.querySelector(%s);
			return el ? el.innerText.trim() : '';
		})()
	`, cfg)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
