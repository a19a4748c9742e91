package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"storymill/internal/core"
	"storymill/internal/logger"
)

const (
	webSearchEndpoint = "https://www.googleapis.com/customsearch/v1"
	webSearchPageSize = 10
	webSearchMaxTotal = 50
)

// WebSearchConfig configures the Custom Search-style connector.
type WebSearchConfig struct {
	APIKey         string
	SearchEngineID string
	Enabled        bool
	NewsOnly       bool
	AllowedHosts   []string
	BaseURL        string // test override
}

// WebSearch issues paginated custom-search requests and keeps only
// candidates that plausibly point at news articles.
type WebSearch struct {
	cfg    WebSearchConfig
	client *http.Client
}

// NewWebSearch creates the web-search connector. A nil client falls back to
// a shared default.
func NewWebSearch(cfg WebSearchConfig, client *http.Client) *WebSearch {
	if client == nil {
		client = defaultClient()
	}
	return &WebSearch{cfg: cfg, client: client}
}

func (w *WebSearch) Provider() core.Provider { return core.ProviderWebSearch }

// blockedHosts are social networks and aggregators whose hits are never
// original articles.
var blockedHosts = map[string]bool{
	"facebook.com": true, "twitter.com": true, "x.com": true,
	"reddit.com": true, "youtube.com": true, "linkedin.com": true,
	"instagram.com": true, "tiktok.com": true, "pinterest.com": true,
	"news.ycombinator.com": true, "flipboard.com": true, "feedly.com": true,
}

var (
	nonNewsHostRe = regexp.MustCompile(`forum|community|support|docs|help|academy`)
	urlDatePathRe = regexp.MustCompile(`/20\d{2}/\d{1,2}/\d{1,2}/|20\d{2}-\d{2}-\d{2}`)
	newsSectionRe = regexp.MustCompile(`/(news|article|articles|story|stories|politics|business|world|technology|tech|science|health|sports)/`)
)

// Fetch pages through the search API ten results at a time, up to fifty.
func (w *WebSearch) Fetch(ctx context.Context, plan core.QueryPlan, opts Options) (Result, error) {
	if !w.cfg.Enabled || w.cfg.APIKey == "" || w.cfg.SearchEngineID == "" {
		return disabledResult(w.Provider()), nil
	}

	query := plan.WebSearchQuery
	if query == "" {
		query = plan.Main
	}

	result := Result{
		Provider:  w.Provider(),
		FetchedAt: time.Now().UTC(),
		Query:     query,
	}
	oldest := cutoff(opts)

	for start := 1; start <= webSearchMaxTotal; start += webSearchPageSize {
		page, status, err := w.fetchPage(ctx, query, opts, start)
		if err != nil {
			if status == http.StatusTooManyRequests {
				// Quota exhaustion is a soft failure: drop the provider for
				// this run rather than failing it.
				logger.Warn("web search rate limited, disabling for run")
				result.Metrics.Disabled = true
				return result, nil
			}
			return failedResult(w.Provider(), query, err), nil
		}

		if len(page) == 0 {
			break
		}
		for _, item := range page {
			result.Metrics.Returned++
			if !w.keep(item, oldest) {
				result.Metrics.PreFiltered++
				continue
			}
			cand := core.Candidate{
				Provider:    w.Provider(),
				Title:       item.Title,
				URL:         item.Link,
				Snippet:     item.Snippet,
				PublishedAt: item.publishedAt(),
			}
			result.Items, result.Metrics.PreFiltered = screen(result.Items, result.Metrics.PreFiltered, cand, opts)
		}
		if len(page) < webSearchPageSize {
			break
		}
	}

	return result, nil
}

type webSearchItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Pagemap struct {
		Metatags []map[string]string `json:"metatags"`
	} `json:"pagemap"`
}

// publishedAt digs a publish timestamp out of the result's page metadata,
// when the search index carried one.
func (it webSearchItem) publishedAt() string {
	for _, tags := range it.Pagemap.Metatags {
		for _, key := range []string{"article:published_time", "og:published_time", "datepublished", "date"} {
			if v := tags[key]; v != "" {
				return v
			}
		}
	}
	return ""
}

func (w *WebSearch) fetchPage(ctx context.Context, query string, opts Options, start int) ([]webSearchItem, int, error) {
	base := w.cfg.BaseURL
	if base == "" {
		base = webSearchEndpoint
	}

	params := url.Values{}
	params.Set("key", w.cfg.APIKey)
	params.Set("cx", w.cfg.SearchEngineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(webSearchPageSize))
	params.Set("start", strconv.Itoa(start))
	params.Set("sort", "date")
	params.Set("dateRestrict", dateRestrict(opts.RecencyHours))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create web search request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute web search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("web search request failed with status %d", resp.StatusCode)
	}

	var payload struct {
		Items []webSearchItem `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to parse web search response: %w", err)
	}
	return payload.Items, resp.StatusCode, nil
}

// dateRestrict converts a recency window into the API's "last N days" form.
func dateRestrict(recencyHours int) string {
	if recencyHours <= 0 {
		recencyHours = 24
	}
	days := (recencyHours + 23) / 24
	return fmt.Sprintf("d%d", days)
}

// keep applies the host- and URL-level news heuristics.
func (w *WebSearch) keep(item webSearchItem, oldest time.Time) bool {
	host := hostOf(item.Link)
	if host == "" {
		return false
	}

	if len(w.cfg.AllowedHosts) > 0 {
		allowed := false
		for _, h := range w.cfg.AllowedHosts {
			if host == strings.ToLower(h) || strings.HasSuffix(host, "."+strings.ToLower(h)) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if blockedHosts[host] {
		return false
	}
	for blocked := range blockedHosts {
		if strings.HasSuffix(host, "."+blocked) {
			return false
		}
	}

	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu") || strings.HasSuffix(host, ".mil") {
		return false
	}
	if nonNewsHostRe.MatchString(host) {
		return false
	}

	if w.cfg.NewsOnly && !looksLikeNewsURL(item.Link) {
		return false
	}

	if published := core.ParseTime(item.publishedAt()); !published.IsZero() && published.Before(oldest) {
		return false
	}

	return true
}

// looksLikeNewsURL accepts paths carrying a date segment or a known news
// section.
func looksLikeNewsURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	return urlDatePathRe.MatchString(path) || newsSectionRe.MatchString(path)
}
