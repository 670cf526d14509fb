package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"deepresearch/internal/domain"
	"deepresearch/internal/ratelimit"
)

func domainSearchDoc(url string, rank int) domain.SearchDoc {
	return domain.SearchDoc{URL: url, Rank: rank}
}

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	limiter := ratelimit.New(ratelimit.Config{RPM: 1000})
	c := New("test-key", srv.URL, limiter)
	return c, srv
}

func TestSearch_Success(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing auth header")
		}
		_ = json.NewEncoder(w).Encode(searchResponse{Data: []searchResult{
			{URL: "https://example.com/a", Title: "A", Description: "desc a", Markdown: "full text a"},
			{URL: "https://www.example.org/b", Title: "B", Description: "desc b"},
		}})
	})
	defer srv.Close()

	res, err := c.Search(context.Background(), "golang testing", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(res.Docs))
	}
	if res.Docs[0].Rank != 0 || res.Docs[1].Rank != 1 {
		t.Fatalf("expected ranks preserved in provider order")
	}
	if res.Docs[0].MainText != "full text a" {
		t.Fatalf("expected markdown preferred as main text, got %q", res.Docs[0].MainText)
	}
	if res.Sources[0].Domain != "example.com" {
		t.Fatalf("unexpected domain: %q", res.Sources[0].Domain)
	}
	if res.Sources[1].Domain != "example.org" {
		t.Fatalf("expected www. stripped, got %q", res.Sources[1].Domain)
	}
	if res.Sources[0].Relevance != 0.9 {
		t.Fatalf("expected relevance 0.9 for rank 0, got %v", res.Sources[0].Relevance)
	}
	if res.Sources[1].Relevance != 0.85 {
		t.Fatalf("expected relevance 0.85 for rank 1, got %v", res.Sources[1].Relevance)
	}
}

func TestSearch_EmptyResultsNotAnError(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(searchResponse{})
	})
	defer srv.Close()

	res, err := c.Search(context.Background(), "nothing found", 5)
	if err != nil {
		t.Fatalf("expected no error on empty results, got %v", err)
	}
	if len(res.Docs) != 0 || len(res.Sources) != 0 {
		t.Fatalf("expected empty docs/sources")
	}
}

func TestSearch_FiltersInvalidURLs(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(searchResponse{Data: []searchResult{
			{URL: "", Title: "no url"},
			{URL: "not-a-url", Title: "bad url"},
			{URL: "https://good.example/x", Title: "good"},
		}})
	})
	defer srv.Close()

	res, err := c.Search(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Docs) != 1 {
		t.Fatalf("expected 1 valid doc, got %d", len(res.Docs))
	}
	if res.Docs[0].Rank != 0 {
		t.Fatalf("expected rank to restart after filtering, got %d", res.Docs[0].Rank)
	}
}

func TestSearch_ProviderErrorSurfaced(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	defer srv.Close()

	_, err := c.Search(context.Background(), "q", 5)
	serr, ok := err.(*Error)
	if !ok || serr.Kind != KindProviderError {
		t.Fatalf("expected provider_error, got %v", err)
	}
}

func TestSearch_RateLimitedRetriesThenSucceeds(t *testing.T) {
	var calls int32
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(searchResponse{Data: []searchResult{
			{URL: "https://example.com/a", Title: "A"},
		}})
	})
	defer srv.Close()

	res, err := c.Search(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Docs) != 1 {
		t.Fatalf("expected 1 doc after retry, got %d", len(res.Docs))
	}
}

func TestSearch_RateLimitedExhaustsRetries(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer srv.Close()

	_, err := c.Search(context.Background(), "q", 5)
	serr, ok := err.(*Error)
	if !ok || serr.Kind != KindRateLimited {
		t.Fatalf("expected rate_limited after exhausting retries, got %v", err)
	}
}

func TestDeriveSource_RelevanceClampedLowerBound(t *testing.T) {
	src := deriveSource(domainSearchDoc("https://example.com/x", 20))
	if src.Relevance != 0.1 {
		t.Fatalf("expected relevance clamped to 0.1, got %v", src.Relevance)
	}
}

func TestExtractHTMLText_SkipsScriptAndStyle(t *testing.T) {
	htmlContent := `<html><head><style>.a{}</style></head><body><script>var x=1;</script><p>Hello  world</p></body></html>`
	got := extractHTMLText(htmlContent)
	if got != "Hello world" {
		t.Fatalf("extractHTMLText() = %q, want %q", got, "Hello world")
	}
}
