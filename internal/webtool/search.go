package webtool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quillcms/aichat/internal/log"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 10
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher queries a SearXNG instance over its JSON API.
type Searcher struct {
	baseURL string
	client  *http.Client
	logger  log.Logger
}

// NewSearcher creates a Searcher for the given SearXNG base URL.
func NewSearcher(baseURL string, logger log.Logger) (*Searcher, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("search base URL is required")
	}
	return &Searcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("component", "webtool.search"),
	}, nil
}

// searxngResponse is the subset of the SearXNG JSON API we consume.
type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs a query and returns at most limit results. limit <= 0
// uses the default; values above the cap are clamped.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	endpoint := s.baseURL + "/search?q=" + url.QueryEscape(query) + "&format=json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var parsed searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]SearchResult, 0, limit)
	for _, r := range parsed.Results {
		if len(results) == limit {
			break
		}
		results = append(results, SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
		})
	}

	s.logger.Debug("search completed", "query", query, "results", len(results))
	return results, nil
}
