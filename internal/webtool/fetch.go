package webtool

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"

	"github.com/quillcms/aichat/internal/config"
	"github.com/quillcms/aichat/internal/log"
)

// maxContentBytes caps extracted page text before it enters a prompt.
const maxContentBytes = 50 * 1024

const fetchUserAgent = "aichat-webtool/1.0"

// Page is the readable content extracted from one webpage.
type Page struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
}

// Fetcher downloads pages and extracts readable article text. Requests
// honor the configured per-domain parallelism, delay, and timeout.
type Fetcher struct {
	parallelism  int
	delay        time.Duration
	timeout      time.Duration
	allowPrivate bool
	logger       log.Logger
}

// NewFetcher creates a Fetcher with the configured scraper limits.
func NewFetcher(cfg config.WebScraperConfig, logger log.Logger) *Fetcher {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 2
	}
	delay := time.Duration(cfg.DelayMs) * time.Millisecond
	if delay <= 0 {
		delay = time.Second
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Fetcher{
		parallelism: parallelism,
		delay:       delay,
		timeout:     timeout,
		logger:      logger.With("component", "webtool.fetch"),
	}
}

// newFetcherForTesting disables the SSRF check so tests can fetch from
// httptest servers on loopback. Tests only.
func newFetcherForTesting(cfg config.WebScraperConfig, logger log.Logger) *Fetcher {
	f := NewFetcher(cfg, logger)
	f.allowPrivate = true
	return f
}

// Fetch downloads the page and extracts its readable text. Extraction
// tries readability first and falls back to stripping the raw HTML.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if !f.allowPrivate {
		if err := validateURL(rawURL); err != nil {
			return Page{}, fmt.Errorf("url rejected: %w", err)
		}
	}

	body, finalURL, err := f.download(ctx, rawURL)
	if err != nil {
		return Page{}, err
	}

	page := f.extract(body, finalURL)
	page.URL = rawURL

	f.logger.Debug("page fetched",
		"url", rawURL, "bytes", len(body), "text_bytes", len(page.Text), "truncated", page.Truncated)
	return page, nil
}

// download retrieves the raw page body via a throttled collector.
func (f *Fetcher) download(ctx context.Context, rawURL string) ([]byte, *url.URL, error) {
	c := colly.NewCollector(
		colly.UserAgent(fetchUserAgent),
		colly.MaxDepth(1),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(f.timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: f.parallelism,
		Delay:       f.delay,
	}); err != nil {
		return nil, nil, fmt.Errorf("configuring fetch limits: %w", err)
	}

	var (
		body     []byte
		finalURL *url.URL
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		finalURL = r.Request.URL
	})

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := c.Visit(rawURL); err != nil {
		return nil, nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	c.Wait()

	if body == nil {
		return nil, nil, fmt.Errorf("fetching %s: empty response", rawURL)
	}
	return body, finalURL, nil
}

// extract pulls readable text out of an HTML body.
func (f *Fetcher) extract(body []byte, pageURL *url.URL) Page {
	var page Page

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		page.Title = article.Title
		page.Text, page.Truncated = truncate(normalizeWhitespace(article.TextContent), maxContentBytes)
		return page
	}

	// Readability could not find an article; strip the markup instead.
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		text := string(body)
		page.Text, page.Truncated = truncate(normalizeWhitespace(text), maxContentBytes)
		return page
	}

	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, iframe, nav, header, footer, aside").Remove()
	text := doc.Find("body").Text()
	page.Text, page.Truncated = truncate(normalizeWhitespace(text), maxContentBytes)
	return page
}

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// normalizeWhitespace collapses horizontal space runs and excess blank
// lines left behind by markup stripping.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	out = newlineRun.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// truncate cuts s at a rune boundary at most n bytes in.
func truncate(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	cut := s[:n]
	// Back up past any partial rune at the cut point.
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r != utf8.RuneError || size != 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return cut, true
}
