package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"

	"storymill/internal/core"
)

const newsRSSEndpoint = "https://news.google.com/rss/search"

// NewsRSSConfig configures the aggregator news-feed connector.
type NewsRSSConfig struct {
	Enabled    bool
	HL         string // interface language, e.g. "en-US"
	GL         string // geolocation, e.g. "US"
	CEID       string // country:language edition id, e.g. "US:en"
	MaxResults int
	BaseURL    string // test override
}

// NewsRSS fetches one aggregator search feed per run. Wrapper URLs are
// passed through untouched; decoding them here would multiply the decode
// cost by connector fan-out, so it happens inside the extractor where the
// extraction budget bounds it.
type NewsRSS struct {
	cfg    NewsRSSConfig
	client *http.Client
}

// NewNewsRSS creates the RSS connector. A nil client falls back to a shared
// default.
func NewNewsRSS(cfg NewsRSSConfig, client *http.Client) *NewsRSS {
	if client == nil {
		client = defaultClient()
	}
	return &NewsRSS{cfg: cfg, client: client}
}

func (n *NewsRSS) Provider() core.Provider { return core.ProviderWebNewsRSS }

// Fetch downloads and parses the search feed, enforcing recency from each
// item's publish date.
func (n *NewsRSS) Fetch(ctx context.Context, plan core.QueryPlan, opts Options) (Result, error) {
	if !n.cfg.Enabled {
		return disabledResult(n.Provider()), nil
	}

	query := plan.Main
	result := Result{
		Provider:  n.Provider(),
		FetchedAt: time.Now().UTC(),
		Query:     query,
	}

	feed, err := n.fetchFeed(ctx, query)
	if err != nil {
		return failedResult(n.Provider(), query, err), nil
	}

	oldest := cutoff(opts)
	maxResults := n.cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 50
	}

	for _, item := range feed.Items {
		if len(result.Items) >= maxResults {
			break
		}
		result.Metrics.Returned++

		if item.PublishedParsed != nil && item.PublishedParsed.Before(oldest) {
			result.Metrics.PreFiltered++
			continue
		}

		cand := core.Candidate{
			Provider: n.Provider(),
			Title:    item.Title,
			URL:      item.Link,
			Snippet:  item.Description,
		}
		if item.PublishedParsed != nil {
			cand.PublishedAt = item.PublishedParsed.UTC().Format(time.RFC3339)
		}
		if src, ok := item.Custom["source"]; ok {
			cand.SourceName = src
		}
		result.Items, result.Metrics.PreFiltered = screen(result.Items, result.Metrics.PreFiltered, cand, opts)
	}

	return result, nil
}

func (n *NewsRSS) fetchFeed(ctx context.Context, query string) (*gofeed.Feed, error) {
	base := n.cfg.BaseURL
	if base == "" {
		base = newsRSSEndpoint
	}

	params := url.Values{}
	params.Set("q", query)
	if n.cfg.HL != "" {
		params.Set("hl", n.cfg.HL)
	}
	if n.cfg.GL != "" {
		params.Set("gl", n.cfg.GL)
	}
	if n.cfg.CEID != "" {
		params.Set("ceid", n.cfg.CEID)
	}

	parser := gofeed.NewParser()
	parser.Client = n.client

	feed, err := parser.ParseURLWithContext(base+"?"+params.Encode(), ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch news feed: %w", err)
	}
	return feed, nil
}
