package extractor

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"storymill/internal/core"
)

// hostRecorder serves canned pages per host and remembers which hosts were
// actually requested.
type hostRecorder struct {
	mu    sync.Mutex
	pages map[string]string
	hosts []string
}

func (h *hostRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	h.mu.Lock()
	h.hosts = append(h.hosts, req.URL.Hostname())
	page := h.pages[req.URL.Hostname()]
	h.mu.Unlock()
	return textResponse(http.StatusOK, page), nil
}

func (h *hostRecorder) requested() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.hosts))
	copy(out, h.hosts)
	return out
}

func articlePage(title, published, body string) string {
	return `<html><head>
		<title>` + title + `</title>
		<link rel="canonical" href="https://publisher.example/story?utm_source=feed">
		<meta property="article:published_time" content="` + published + `">
	</head><body><article><p>` + body + `</p></article></body></html>`
}

func longBody() string {
	return strings.Repeat("semiconductor export controls reshaped supply chains across the industry today ", 20)
}

func TestExtractHappyPath(t *testing.T) {
	recorder := &hostRecorder{pages: map[string]string{
		"publisher.example": articlePage("Chip controls tighten", time.Now().UTC().Add(-2*time.Hour).Format(time.RFC3339), longBody()),
	}}
	e := New(Options{FetchTimeout: time.Second}, &http.Client{Transport: recorder}, nil)

	cand := core.Candidate{
		Provider: core.ProviderNewsAPI,
		URL:      "https://publisher.example/story?utm_source=feed",
		Title:    "Chip controls tighten",
	}
	article, meta, err := e.Extract(context.Background(), cand, []string{"semiconductor", "export", "controls"})
	if err != nil {
		t.Fatalf("Expected successful extraction, got %v", err)
	}

	if article.Title != "Chip controls tighten" {
		t.Errorf("Expected title from document, got %q", article.Title)
	}
	if article.CanonicalURL != "https://publisher.example/story" {
		t.Errorf("Expected canonical URL without utm params, got %q", article.CanonicalURL)
	}
	if article.SourceHost != "publisher.example" {
		t.Errorf("Expected source host publisher.example, got %q", article.SourceHost)
	}
	if !article.HasExtractedBody {
		t.Error("Expected HasExtractedBody for a long HTML body")
	}
	if article.PublishedAt == "" {
		t.Error("Expected publishedAt from meta tag")
	}
	if article.Quality.WordCount == 0 || article.Quality.UniqueWordCount == 0 {
		t.Errorf("Expected non-zero quality counts, got %+v", article.Quality)
	}
	if article.Quality.RelevanceScore != 1 {
		t.Errorf("Expected all query tokens matched, got %v", article.Quality.RelevanceScore)
	}
	if article.ID != core.ArticleID(article.CanonicalURL) {
		t.Error("Expected article ID derived from canonical URL")
	}
	if meta.CacheHit {
		t.Error("Expected first extraction to miss the cache")
	}
}

func TestExtractRefusesUnsafeURL(t *testing.T) {
	recorder := &hostRecorder{pages: map[string]string{}}
	e := New(Options{FetchTimeout: time.Second}, &http.Client{Transport: recorder}, nil)

	cand := core.Candidate{URL: "http://10.0.0.5/internal"}
	if _, _, err := e.Extract(context.Background(), cand, nil); err == nil {
		t.Fatal("Expected safety rejection")
	}
	if len(recorder.requested()) != 0 {
		t.Errorf("Expected no network request, got %v", recorder.requested())
	}
}

func TestExtractWrapperGoesToPublisherOnly(t *testing.T) {
	recorder := &hostRecorder{pages: map[string]string{
		"publisher.example": articlePage("Decoded story title", time.Now().UTC().Add(-time.Hour).Format(time.RFC3339), longBody()),
	}}
	e := New(Options{FetchTimeout: time.Second}, &http.Client{Transport: recorder}, nil)

	cand := core.Candidate{
		Provider: core.ProviderWebNewsRSS,
		URL:      "https://news.google.com/rss/articles/" + encodeWrapperToken("https://publisher.example/story"),
	}
	article, _, err := e.Extract(context.Background(), cand, nil)
	if err != nil {
		t.Fatalf("Expected successful extraction, got %v", err)
	}

	hosts := recorder.requested()
	if len(hosts) != 1 || hosts[0] != "publisher.example" {
		t.Errorf("Expected exactly one request to publisher.example, got %v", hosts)
	}
	if !strings.Contains(article.CanonicalURL, "publisher.example") {
		t.Errorf("Expected canonical URL on publisher host, got %q", article.CanonicalURL)
	}
}

func TestExtractProviderBodyFallback(t *testing.T) {
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		resp := textResponse(http.StatusOK, "%PDF-1.4 binary payload")
		resp.Header.Set("Content-Type", "application/pdf")
		return resp, nil
	})
	e := New(Options{FetchTimeout: time.Second}, &http.Client{Transport: transport}, nil)

	cand := core.Candidate{
		Provider:     core.ProviderEventRegistry,
		URL:          "https://publisher.example/report",
		Title:        "Quarterly report analysis",
		ProviderData: map[string]string{"body": longBody()},
	}
	article, _, err := e.Extract(context.Background(), cand, nil)
	if err != nil {
		t.Fatalf("Expected provider body fallback, got %v", err)
	}
	if article.HasExtractedBody {
		t.Error("Expected fallback article to report HasExtractedBody=false")
	}
	if article.Quality.WordCount == 0 {
		t.Error("Expected quality computed over the fallback body")
	}
}

func TestExtractCacheHit(t *testing.T) {
	recorder := &hostRecorder{pages: map[string]string{
		"publisher.example": articlePage("Cached story", time.Now().UTC().Add(-time.Hour).Format(time.RFC3339), longBody()),
	}}
	e := New(Options{FetchTimeout: time.Second}, &http.Client{Transport: recorder}, NewMemoryCache(time.Minute, 16))

	cand := core.Candidate{Provider: core.ProviderWebSearch, URL: "https://publisher.example/story"}

	if _, meta, err := e.Extract(context.Background(), cand, nil); err != nil || meta.CacheHit {
		t.Fatalf("Expected first extraction to fetch, err=%v hit=%v", err, meta.CacheHit)
	}
	_, meta, err := e.Extract(context.Background(), cand, nil)
	if err != nil {
		t.Fatalf("Expected cached extraction, got %v", err)
	}
	if !meta.CacheHit {
		t.Error("Expected second extraction to hit the cache")
	}
	if got := len(recorder.requested()); got != 1 {
		t.Errorf("Expected exactly one network fetch, got %d", got)
	}
}

func TestExcerptKeepsRuneBoundaries(t *testing.T) {
	// One ASCII byte up front misaligns every two-byte rune that follows,
	// so a naive byte slice at the limit would split a rune.
	body := "a" + strings.Repeat("é", excerptLength)

	got := excerpt(body)
	if !utf8.ValidString(got) {
		t.Errorf("Expected valid UTF-8 excerpt, got %q", got[len(got)-4:])
	}
	if len(got) > excerptLength {
		t.Errorf("Expected excerpt at most %d bytes, got %d", excerptLength, len(got))
	}

	short := "short body"
	if excerpt(short) != short {
		t.Errorf("Expected short body unchanged, got %q", excerpt(short))
	}
}
