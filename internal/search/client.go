// Package search adapts a web-search-and-scrape HTTP provider to the
// SearchClient contract: given a query, return ranked documents with
// extracted main text, plus derived Source records for the event stream.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"deepresearch/internal/docextract"
	"deepresearch/internal/domain"
	"deepresearch/internal/ratelimit"
)

const (
	defaultTimeout  = 45 * time.Second
	maxMainTextSize = 25000
)

// Client calls a Firecrawl-style search+scrape endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	country    string
	lang       string
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithCountryLang(country, lang string) Option {
	return func(c *Client) { c.country = country; c.lang = lang }
}

// New creates a SearchClient backed by apiKey and gated by limiter.
func New(apiKey, baseURL string, limiter *ratelimit.Limiter, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    limiter,
		country:    "us",
		lang:       "en",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kind classifies a SearchClient failure.
type Kind string

const (
	KindRateLimited   Kind = "rate_limited"
	KindTransient     Kind = "transient"
	KindProviderError Kind = "provider_error"
)

// Error wraps a classified SearchClient failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("search: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

type scrapeOptions struct {
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type searchRequest struct {
	Query         string        `json:"query"`
	Limit         int           `json:"limit"`
	Country       string        `json:"country"`
	Lang          string        `json:"lang"`
	ScrapeOptions scrapeOptions `json:"scrapeOptions"`
	Timeout       int           `json:"timeout"`
}

type searchResult struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Snippet     string `json:"snippet"`
	Markdown    string `json:"markdown"`
}

type searchResponse struct {
	Data []searchResult `json:"data"`
}

// Result is the SearchClient contract's return value.
type Result struct {
	Docs    []domain.SearchDoc
	Sources []domain.Source
}

// Search performs a single web search, retrying internally per the error
// taxonomy: rate_limited up to 3 times, transient up to 2 times. A
// provider_error (4xx other than 429) is surfaced immediately.
func (c *Client) Search(ctx context.Context, query string, limit int) (Result, error) {
	docs, err := c.searchAttempt(ctx, query, limit, 0, 0)
	if err != nil {
		return Result{}, err
	}
	if len(docs) == 0 {
		return Result{}, nil
	}

	sources := make([]domain.Source, 0, len(docs))
	for _, d := range docs {
		sources = append(sources, deriveSource(d))
	}
	return Result{Docs: docs, Sources: sources}, nil
}

func (c *Client) searchAttempt(ctx context.Context, query string, limit int, rateRetries, transientRetries int) ([]domain.SearchDoc, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, &Error{Kind: KindTransient, Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	body, err := json.Marshal(searchRequest{
		Query:   query,
		Limit:   limit,
		Country: c.country,
		Lang:    c.lang,
		ScrapeOptions: scrapeOptions{
			Formats:         []string{"markdown", "links"},
			OnlyMainContent: true,
		},
		Timeout: int(defaultTimeout / time.Millisecond),
	})
	if err != nil {
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if reqCtx.Err() != nil && ctx.Err() == nil {
			if transientRetries < 2 {
				return c.searchAttempt(ctx, query, limit, rateRetries, transientRetries+1)
			}
			return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("request timed out: %w", err)}
		}
		if transientRetries < 2 {
			return c.searchAttempt(ctx, query, limit, rateRetries, transientRetries+1)
		}
		return nil, &Error{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.limiter.SignalRateLimitError(retryAfter)
		if rateRetries < 3 {
			return c.searchAttempt(ctx, query, limit, rateRetries+1, transientRetries)
		}
		return nil, &Error{Kind: KindRateLimited, Err: fmt.Errorf("rate limited after retries")}

	case resp.StatusCode >= 500:
		if transientRetries < 2 {
			return c.searchAttempt(ctx, query, limit, rateRetries, transientRetries+1)
		}
		b, _ := io.ReadAll(resp.Body)
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("server error %d: %s", resp.StatusCode, b)}

	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(resp.Body)
		return nil, &Error{Kind: KindProviderError, Err: fmt.Errorf("provider error %d: %s", resp.StatusCode, b)}
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("decode response: %w", err)}
	}

	docs := make([]domain.SearchDoc, 0, len(decoded.Data))
	rank := 0
	for _, r := range decoded.Data {
		if !validURL(r.URL) {
			continue
		}
		snippet := r.Description
		if snippet == "" {
			snippet = r.Snippet
		}
		docs = append(docs, domain.SearchDoc{
			URL:      r.URL,
			Title:    r.Title,
			Snippet:  snippet,
			MainText: truncate(mainTextFrom(r), maxMainTextSize),
			Rank:     rank,
		})
		rank++
	}
	return docs, nil
}

// mainTextFrom prefers the provider's markdown extraction; documents whose
// URL resolves to a non-HTML format get re-extracted via docextract when
// the caller fetches the raw bytes (see FetchAndExtract).
func mainTextFrom(r searchResult) string {
	if r.Markdown != "" {
		return r.Markdown
	}
	return r.Description
}

// FetchAndExtract downloads a document's raw bytes and extracts main text
// according to its Content-Type, routing PDF/DOCX/XLSX through docextract
// and falling back to HTML tag-stripping otherwise. Search does not call it:
// a SearchDoc's mainText comes only from the provider's markdown or
// description field.
func (c *Client) FetchAndExtract(ctx context.Context, docURL string) (string, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return "", &Error{Kind: KindTransient, Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, docURL, nil)
	if err != nil {
		return "", &Error{Kind: KindTransient, Err: err}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; DeepResearchBot/1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &Error{Kind: KindProviderError, Err: fmt.Errorf("fetch error %d for %s", resp.StatusCode, docURL)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: KindTransient, Err: err}
	}

	kind := docextract.KindFromContentType(resp.Header.Get("Content-Type"))
	if kind == docextract.KindNone {
		return truncate(extractHTMLText(string(body)), maxMainTextSize), nil
	}
	text, err := docextract.ExtractText(kind, body)
	if err != nil {
		return "", &Error{Kind: KindTransient, Err: err}
	}
	return truncate(text, maxMainTextSize), nil
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func extractHTMLText(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		re := regexp.MustCompile(`<[^>]*>`)
		return cleanWhitespace(re.ReplaceAllString(htmlContent, ""))
	}

	var text strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
			text.WriteString(" ")
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(doc)
	return cleanWhitespace(text.String())
}

func cleanWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func validURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// deriveSource computes a Source record from a ranked SearchDoc per the
// spec's domain/favicon/relevance derivation rules.
func deriveSource(d domain.SearchDoc) domain.Source {
	domainName := ""
	if u, err := url.Parse(d.URL); err == nil {
		domainName = strings.ToLower(u.Hostname())
		domainName = strings.TrimPrefix(domainName, "www.")
	}

	relevance := 0.9 - 0.05*float64(d.Rank)
	if relevance < 0.1 {
		relevance = 0.1
	}
	if relevance > 0.95 {
		relevance = 0.95
	}

	favicon := ""
	if domainName != "" {
		favicon = "https://www.google.com/s2/favicons?domain=" + domainName
	}

	return domain.Source{
		URL:       d.URL,
		Title:     d.Title,
		Domain:    domainName,
		Favicon:   favicon,
		Relevance: relevance,
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if d, err := time.ParseDuration(header + "s"); err == nil {
		return d
	}
	return 0
}
