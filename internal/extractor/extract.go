// Package extractor fetches candidate URLs and turns them into normalized
// articles: parsed title and body, canonical URL, publish dates, and quality
// signals. It also owns the aggregator wrapper decode and the process-wide
// extraction cache.
package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"storymill/internal/core"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; storymill/1.0; +https://github.com/storymill)"
	acceptHeader     = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5"

	// minBodyChars is the threshold below which an HTML-extracted body is
	// considered unusable and the provider fallback body is preferred.
	minBodyChars = 200

	maxBodyBytes  = 4 << 20
	excerptLength = 280
)

// Options configures an Extractor.
type Options struct {
	UserAgent         string
	FetchTimeout      time.Duration
	WrapperRPCBaseURL string // test override
}

// Meta carries extraction timing and routing details for observability.
type Meta struct {
	FetchMs       int64
	ParseMs       int64
	RedirectedURL string
	CacheHit      bool
}

// Extractor fetches and normalizes articles. It is safe for concurrent use.
type Extractor struct {
	client *http.Client
	cache  Cache
	opts   Options
}

// New creates an Extractor. A nil client gets a default with the configured
// fetch timeout; a nil cache disables caching.
func New(opts Options, client *http.Client, cache Cache) *Extractor {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: opts.FetchTimeout}
	}
	if cache == nil {
		cache = NopCache{}
	}
	return &Extractor{client: client, cache: cache, opts: opts}
}

// providerBodyKeys are the providerData keys that may carry a usable article
// body when the HTML fetch fails or returns the wrong content type.
var providerBodyKeys = []string{"body", "content", "description"}

// Extract resolves, fetches, and parses one candidate. Expected failures
// come back as an error with a nil article; the orchestrator records them as
// per-candidate extraction errors.
func (e *Extractor) Extract(ctx context.Context, cand core.Candidate, queryTokens []string) (*core.NormalizedArticle, Meta, error) {
	var meta Meta

	if err := CheckURLSafety(cand.URL); err != nil {
		return nil, meta, err
	}

	target := cand.URL
	if cand.Provider == core.ProviderWebNewsRSS && IsWrapperURL(target) {
		target = e.resolveWrapperURL(ctx, target)
		if err := CheckURLSafety(target); err != nil {
			return nil, meta, err
		}
	}

	if cached, ok := e.cache.Get(target); ok {
		meta.CacheHit = true
		return cached, meta, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	defer cancel()

	fetchStart := time.Now()
	resp, err := e.fetch(fetchCtx, target)
	meta.FetchMs = time.Since(fetchStart).Milliseconds()
	if err != nil {
		if art := e.articleFromProviderData(cand, queryTokens); art != nil {
			return art, meta, nil
		}
		return nil, meta, err
	}
	defer func() { _ = resp.Body.Close() }()

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
		if finalURL != target {
			meta.RedirectedURL = finalURL
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !strings.Contains(contentType, "text/html") {
		if art := e.articleFromProviderData(cand, queryTokens); art != nil {
			e.cachePut(art, target, finalURL)
			return art, meta, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, meta, fmt.Errorf("fetch returned status %d", resp.StatusCode)
		}
		return nil, meta, fmt.Errorf("unsupported content type %q", contentType)
	}

	parseStart := time.Now()
	article, err := e.parse(resp.Body, cand, target, finalURL, queryTokens)
	meta.ParseMs = time.Since(parseStart).Milliseconds()
	if err != nil {
		return nil, meta, err
	}

	e.cachePut(article, target, finalURL)
	return article, meta, nil
}

func (e *Extractor) fetch(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch request: %w", err)
	}
	req.Header.Set("User-Agent", e.opts.UserAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	return resp, nil
}

func (e *Extractor) cachePut(article *core.NormalizedArticle, requestURL, finalURL string) {
	e.cache.Put(requestURL, article)
	if article.CanonicalURL != "" {
		e.cache.Put(article.CanonicalURL, article)
	}
	if finalURL != "" && finalURL != requestURL {
		e.cache.Put(finalURL, article)
	}
}

// parse extracts title, canonical URL, body, dates, and quality signals from
// an HTML document.
func (e *Extractor) parse(r io.Reader, cand core.Candidate, requestURL, finalURL string, queryTokens []string) (*core.NormalizedArticle, error) {
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("head title").First().Text())
	if title == "" {
		title, _ = doc.Find(`meta[property="og:title"]`).Attr("content")
		title = strings.TrimSpace(title)
	}
	if title == "" {
		title = cand.Title
	}

	canonical, _ := doc.Find(`link[rel="canonical"]`).Attr("href")
	canonical = strings.TrimSpace(canonical)
	if canonical == "" || CheckURLSafety(canonical) != nil {
		canonical = finalURL
	}
	if canonical == "" {
		canonical = requestURL
	}
	canonical = Canonicalize(canonical)

	body := extractBodyText(doc)
	hasExtractedBody := len(body) >= minBodyChars
	if !hasExtractedBody {
		if fallback := providerBody(cand); fallback != "" {
			body = fallback
		}
	}

	now := time.Now().UTC()
	published, modified := ExtractDates(doc, canonical, now)
	guessed := false
	if published.IsZero() {
		if inferred, ok := InferDateFromText(body, now); ok {
			published = inferred
			guessed = true
		}
	}
	if published.IsZero() {
		if t := core.ParseTime(cand.PublishedAt); !t.IsZero() && plausible(t, now) {
			published = t
		}
	}

	article := &core.NormalizedArticle{
		ID:               core.ArticleID(canonical),
		Title:            title,
		CanonicalURL:     canonical,
		SourceHost:       hostOf(canonical),
		SourceName:       cand.SourceName,
		Excerpt:          excerpt(body),
		Body:             body,
		HasExtractedBody: hasExtractedBody,
		PublishedAtGuess: guessed,
		Quality:          quality(body, queryTokens),
		Provenance:       core.Provenance{Provider: cand.Provider, ProviderID: cand.ID},
	}
	if article.SourceName == "" {
		article.SourceName = article.SourceHost
	}
	if !published.IsZero() {
		article.PublishedAt = published.Format(time.RFC3339)
	}
	if !modified.IsZero() {
		article.ModifiedAt = modified.Format(time.RFC3339)
	}
	return article, nil
}

// articleFromProviderData synthesizes an article from the provider-supplied
// body when a usable one exists, skipping HTML parsing entirely.
func (e *Extractor) articleFromProviderData(cand core.Candidate, queryTokens []string) *core.NormalizedArticle {
	body := providerBody(cand)
	if body == "" {
		return nil
	}

	canonical := Canonicalize(cand.URL)
	now := time.Now().UTC()

	article := &core.NormalizedArticle{
		ID:               core.ArticleID(canonical),
		Title:            cand.Title,
		CanonicalURL:     canonical,
		SourceHost:       hostOf(canonical),
		SourceName:       cand.SourceName,
		Excerpt:          excerpt(body),
		Body:             body,
		HasExtractedBody: false,
		Quality:          quality(body, queryTokens),
		Provenance:       core.Provenance{Provider: cand.Provider, ProviderID: cand.ID},
	}
	if article.SourceName == "" {
		article.SourceName = article.SourceHost
	}
	if t := core.ParseTime(cand.PublishedAt); !t.IsZero() && plausible(t, now) {
		article.PublishedAt = t.Format(time.RFC3339)
	}
	return article
}

func providerBody(cand core.Candidate) string {
	for _, key := range providerBodyKeys {
		if body := strings.TrimSpace(cand.ProviderData[key]); len(body) >= minBodyChars {
			return normalizeWhitespace(body)
		}
	}
	return ""
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// extractBodyText pulls readable text from the first matching content
// container: <article>, then <main>, then <body>, then the whole document.
func extractBodyText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, template").Remove()

	for _, selector := range []string{"article", "main", "body"} {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if text := normalizeWhitespace(sel.Text()); text != "" {
			return text
		}
	}
	return normalizeWhitespace(doc.Text())
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func excerpt(body string) string {
	if len(body) <= excerptLength {
		return body
	}
	cut := excerptLength
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return strings.TrimSpace(body[:cut])
}

var bodyTokenRe = regexp.MustCompile(`[^a-z0-9\s-]`)

// quality computes the body's word counts and its relevance against the
// query tokens. Relevance is the fraction of query tokens present in the
// body's hyphen-expanded token set, rounded to three decimals.
func quality(body string, queryTokens []string) core.Quality {
	cleaned := bodyTokenRe.ReplaceAllString(strings.ToLower(body), " ")
	tokens := strings.Fields(cleaned)

	unique := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		tok = strings.Trim(tok, "-")
		if tok == "" {
			continue
		}
		unique[tok] = true
		if strings.Contains(tok, "-") {
			unique[strings.ReplaceAll(tok, "-", "")] = true
			for _, part := range strings.Split(tok, "-") {
				if part != "" {
					unique[part] = true
				}
			}
		}
	}

	q := core.Quality{
		WordCount:       len(tokens),
		UniqueWordCount: len(unique),
	}
	if len(queryTokens) > 0 {
		matched := 0
		for _, tok := range queryTokens {
			if unique[strings.ToLower(tok)] {
				matched++
			}
		}
		q.RelevanceScore = round3(float64(matched) / float64(len(queryTokens)))
	}
	return q
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}
