package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alfan-chat/relay/internal/config"
	"github.com/sirupsen/logrus"
)

const userAgent = "Mozilla/5.0 (compatible; relay/1.0)"

// Result is one web search hit.
type Result struct {
	Title   string
	Snippet string
	URL     string
}

// Searcher scrapes the DuckDuckGo HTML endpoint.
type Searcher struct {
	endpoint   string
	maxResults int
	client     *http.Client
	logger     *logrus.Logger
}

// NewSearcher creates a new web searcher
func NewSearcher(cfg *config.SearchConfig, logger *logrus.Logger) *Searcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 3
	}
	return &Searcher{
		endpoint:   cfg.Endpoint,
		maxResults: maxResults,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Search returns a prompt-ready block of facts for query, or "" when nothing
// was found. n <= 0 uses the configured maximum.
func (s *Searcher) Search(ctx context.Context, query string, n int) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}
	if n <= 0 {
		n = s.maxResults
	}

	results, err := s.fetch(ctx, query, n)
	if err != nil {
		return "", err
	}
	s.logger.WithFields(logrus.Fields{
		"query":   truncate(query, 50),
		"results": len(results),
	}).Info("Web search finished")
	return FormatContext(results), nil
}

func (s *Searcher) fetch(ctx context.Context, query string, n int) ([]Result, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+form.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search page: %w", err)
	}

	var results []Result
	doc.Find(".result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find(".result__a").First()
		title := collapse(link.Text())
		snippet := collapse(sel.Find(".result__snippet").First().Text())
		if title == "" && snippet == "" {
			return true
		}
		href, _ := link.Attr("href")
		results = append(results, Result{Title: title, Snippet: snippet, URL: href})
		return len(results) < n
	})
	return results, nil
}

// FormatContext renders results as numbered sources for the system prompt.
func FormatContext(results []Result) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("FAKTA DARI INTERNET (Gunakan ini untuk menjawab):\n")
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "No Title"
		}
		body := r.Snippet
		if body == "" {
			body = "No Content"
		}
		fmt.Fprintf(&b, "Sumber %d (%s): %s\n", i+1, title, body)
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
