package scraper

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"car_scrooper/config"
	"car_scrooper/models"
	"car_scrooper/proxy"
	"car_scrooper/services"
)

// BrowserHandler drives a headless browser against one marketplace: walking
// index pages for listing URLs, extracting detail pages, and probing listing
// status for the tracker.
type BrowserHandler struct {
	site    *config.SiteConfig
	scraper config.ScraperConfig
	proxies *proxy.Pool

	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	bctx        playwright.BrowserContext
	page        playwright.Page
	initialized bool
}

func NewBrowserHandler(site *config.SiteConfig, scraperCfg config.ScraperConfig, proxies *proxy.Pool) *BrowserHandler {
	return &BrowserHandler{site: site, scraper: scraperCfg, proxies: proxies}
}

var _ services.StatusProbe = (*BrowserHandler)(nil)

func (h *BrowserHandler) ID() string {
	return h.site.ID
}

// ensureLocked launches the browser session if none is live. Callers must
// hold h.mu.
func (h *BrowserHandler) ensureLocked() error {
	if h.initialized {
		return nil
	}

	var err error
	h.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}

	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if p := h.proxies.Next(); p != nil {
		opts.Proxy = &playwright.Proxy{
			Server:   p.Server,
			Username: playwright.String(p.Username),
			Password: playwright.String(p.Password),
		}
		log.Printf("[%s] browser session via proxy %s", h.site.ID, p.Server)
	}

	h.browser, err = h.pw.Chromium.Launch(opts)
	if err != nil {
		h.pw.Stop()
		return fmt.Errorf("launch browser: %w", err)
	}

	h.bctx, err = h.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"),
		Viewport:  &playwright.Size{Width: 1366, Height: 768},
	})
	if err != nil {
		h.browser.Close()
		h.pw.Stop()
		return fmt.Errorf("create context: %w", err)
	}

	h.page, err = h.bctx.NewPage()
	if err != nil {
		h.bctx.Close()
		h.browser.Close()
		h.pw.Stop()
		return fmt.Errorf("create page: %w", err)
	}

	h.initialized = true
	return nil
}

func (h *BrowserHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked()
}

func (h *BrowserHandler) closeLocked() {
	if h.page != nil {
		h.page.Close()
		h.page = nil
	}
	if h.bctx != nil {
		h.bctx.Close()
		h.bctx = nil
	}
	if h.browser != nil {
		h.browser.Close()
		h.browser = nil
	}
	if h.pw != nil {
		h.pw.Stop()
		h.pw = nil
	}
	h.initialized = false
}

// Reset tears the session down so the next navigation starts a fresh
// browser, typically with a new proxy exit. It waits for any in-flight
// navigation to finish first.
func (h *BrowserHandler) Reset(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked()
	return nil
}

// ScrapeIndex walks listing index pages starting at startPage and returns
// the listing URLs found. onPage is called after each page so the caller can
// checkpoint a resume point.
func (h *BrowserHandler) ScrapeIndex(ctx context.Context, startPage, maxPages int, onPage func(page int)) ([]string, error) {
	linkSel, ok := h.site.Selectors["listing_links"]
	if !ok {
		return nil, fmt.Errorf("site %s has no listing_links selector", h.site.ID)
	}

	seen := make(map[string]bool)
	var urls []string

	for page := startPage; maxPages <= 0 || page < startPage+maxPages; page++ {
		if ctx.Err() != nil {
			return urls, ctx.Err()
		}

		doc, err := h.fetchPage(indexURL(h.site.BaseURL, page))
		if err != nil {
			log.Printf("Warning: [%s] index page %d: %v", h.site.ID, page, err)
			break
		}

		found := 0
		doc.Find(linkSel).Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok {
				return
			}
			abs := absoluteURL(h.site.BaseURL, href)
			if abs == "" || seen[abs] {
				return
			}
			seen[abs] = true
			urls = append(urls, abs)
			found++
		})

		log.Printf("[%s] index page %d: %d new listings (total %d)", h.site.ID, page, found, len(urls))
		if found == 0 {
			break
		}
		if onPage != nil {
			onPage(page)
		}
		h.randomDelay()
	}

	return urls, nil
}

// ScrapeListing extracts one detail page into a raw record.
func (h *BrowserHandler) ScrapeListing(ctx context.Context, listingURL string) (*models.ListingRecord, error) {
	doc, err := h.fetchPage(listingURL)
	if err != nil {
		return nil, err
	}

	rec := ParseListingPage(doc, h.site)
	rec.ListingURL = listingURL
	return rec, nil
}

// Check implements the tracker's status probe: navigate, watch for the
// sold signals, and re-extract the record when the page is still a listing.
// The session is held for the whole probe so a concurrent Reset cannot tear
// the page down mid-navigation.
func (h *BrowserHandler) Check(ctx context.Context, listingURL string) (*services.CheckOutcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ensureLocked(); err != nil {
		return nil, err
	}

	if _, err := h.page.Goto(listingURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(h.scraper.NavigationTimeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		h.screenshotOnError("check")
		return nil, fmt.Errorf("goto: %w", err)
	}
	h.randomDelay()

	title, _ := h.page.Title()
	if IsChallengeTitle(title) {
		log.Printf("[%s] anti-bot challenge at %s", h.site.ID, listingURL)
		return &services.CheckOutcome{FinalURL: h.page.URL(), Blocked: true}, nil
	}

	content, err := h.page.Content()
	if err != nil {
		return nil, fmt.Errorf("page content: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}

	outcome := &services.CheckOutcome{FinalURL: h.page.URL()}
	if ContainsSoldIndicator(doc, h.site.SoldIndicators) {
		outcome.SoldText = true
		return outcome, nil
	}

	rec := ParseListingPage(doc, h.site)
	rec.ListingURL = listingURL
	outcome.Record = rec
	return outcome, nil
}

// fetchPage navigates to one URL and parses the rendered document, holding
// the session lock for the full round trip.
func (h *BrowserHandler) fetchPage(pageURL string) (*goquery.Document, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ensureLocked(); err != nil {
		return nil, err
	}

	if _, err := h.page.Goto(pageURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(h.scraper.NavigationTimeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		h.screenshotOnError("fetch")
		return nil, fmt.Errorf("goto %s: %w", pageURL, err)
	}

	title, _ := h.page.Title()
	if IsChallengeTitle(title) {
		h.screenshotOnError("challenge")
		return nil, fmt.Errorf("anti-bot challenge at %s", pageURL)
	}

	content, err := h.page.Content()
	if err != nil {
		return nil, fmt.Errorf("page content: %w", err)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(content))
}

func (h *BrowserHandler) randomDelay() {
	min, max := h.scraper.DelayMinMS, h.scraper.DelayMaxMS
	if h.site.RateLimitMS > min {
		min = h.site.RateLimitMS
	}
	if max <= min {
		max = min + 1
	}
	delay := min + rand.Intn(max-min)
	time.Sleep(time.Duration(delay) * time.Millisecond)
}

func (h *BrowserHandler) screenshotOnError(stage string) {
	if h.page == nil {
		return
	}
	dir := "screenshots"
	os.MkdirAll(dir, 0755)
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_%d.png", h.site.ID, stage, time.Now().Unix()))
	if _, err := h.page.Screenshot(playwright.PageScreenshotOptions{Path: playwright.String(path)}); err == nil {
		log.Printf("[%s] error screenshot saved to %s", h.site.ID, path)
	}
}

func indexURL(base string, page int) string {
	if page <= 1 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d", base, sep, page)
}

func absoluteURL(base, href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || u.String() == "" {
		return ""
	}
	if u.IsAbs() {
		return u.String()
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return b.ResolveReference(u).String()
}
