package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"storymill/internal/core"
	"storymill/internal/logger"
	"storymill/internal/query"
)

const eventRegistryEndpoint = "https://eventregistry.org/api/v1/article/getArticles"

// keywordBudgets are the successively smaller budgets tried when the
// upstream rejects a request for carrying too many keywords.
var keywordBudgets = []int{15, 12, 10, 8}

// EventRegistryConfig configures the Event Registry connector.
type EventRegistryConfig struct {
	APIKey        string
	LookbackHours int
	MaxEvents     int
	Enabled       bool
	BaseURL       string // test override
}

// EventRegistry issues one keyword-OR article search bounded by the recency
// window.
type EventRegistry struct {
	cfg    EventRegistryConfig
	client *http.Client
}

// NewEventRegistry creates the Event Registry connector. A nil client falls
// back to a shared default.
func NewEventRegistry(cfg EventRegistryConfig, client *http.Client) *EventRegistry {
	if client == nil {
		client = defaultClient()
	}
	return &EventRegistry{cfg: cfg, client: client}
}

func (e *EventRegistry) Provider() core.Provider { return core.ProviderEventRegistry }

// Fetch runs the keyword search, shrinking the keyword budget on "too many
// keywords" rejections. Any other upstream error surfaces as a failed
// result.
func (e *EventRegistry) Fetch(ctx context.Context, plan core.QueryPlan, opts Options) (Result, error) {
	if !e.cfg.Enabled || e.cfg.APIKey == "" {
		return disabledResult(e.Provider()), nil
	}

	keywords := plan.EventRegistryKeywords
	if len(keywords) == 0 {
		keywords = query.EventRegistryKeywords(plan.Main)
	}
	if len(keywords) == 0 {
		return disabledResult(e.Provider()), nil
	}

	recency := opts.RecencyHours
	if e.cfg.LookbackHours > 0 {
		recency = e.cfg.LookbackHours
	}
	windowOpts := opts
	windowOpts.RecencyHours = recency

	var lastErr error
	for _, budget := range keywordBudgets {
		kws := query.BudgetKeywords(keywords, budget)
		if len(kws) == 0 {
			break
		}
		result, err := e.fetchArticles(ctx, kws, windowOpts)
		if err != nil {
			if tooManyKeywords(err) {
				logger.Warn("event registry rejected keyword count, shrinking budget", "budget", budget)
				lastErr = err
				continue
			}
			return failedResult(e.Provider(), strings.Join(kws, " OR "), err), nil
		}
		return result, nil
	}

	if lastErr != nil {
		return failedResult(e.Provider(), strings.Join(keywords, " OR "), lastErr), nil
	}
	return disabledResult(e.Provider()), nil
}

func tooManyKeywords(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too many keywords") || strings.Contains(msg, "keyword limit")
}

type eventRegistryArticle struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Body     string `json:"body"`
	DateTime string `json:"dateTime"`
	Source   struct {
		Title string `json:"title"`
	} `json:"source"`
}

func (e *EventRegistry) fetchArticles(ctx context.Context, keywords []string, opts Options) (Result, error) {
	base := e.cfg.BaseURL
	if base == "" {
		base = eventRegistryEndpoint
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	maxEvents := e.cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 50
	}

	body := map[string]any{
		"action":         "getArticles",
		"keyword":        keywords,
		"keywordOper":    "or",
		"dateStart":      cutoff(opts).Format("2006-01-02"),
		"dateEnd":        now.Format("2006-01-02"),
		"articlesSortBy": "date",
		"articlesCount":  maxEvents,
		"resultType":     "articles",
		"apiKey":         e.cfg.APIKey,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode event registry request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base, bytes.NewReader(encoded))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create event registry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to execute event registry request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var payload struct {
		Error    string `json:"error"`
		Articles struct {
			Results []eventRegistryArticle `json:"results"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("failed to parse event registry response: %w", err)
	}
	if payload.Error != "" {
		return Result{}, fmt.Errorf("event registry error: %s", payload.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("event registry request failed with status %d", resp.StatusCode)
	}

	result := Result{
		Provider:  e.Provider(),
		FetchedAt: time.Now().UTC(),
		Query:     strings.Join(keywords, " OR "),
	}
	oldest := cutoff(opts)

	for _, a := range payload.Articles.Results {
		result.Metrics.Returned++
		if published := core.ParseTime(a.DateTime); !published.IsZero() && published.Before(oldest) {
			result.Metrics.PreFiltered++
			continue
		}
		cand := core.Candidate{
			Provider:    e.Provider(),
			Title:       a.Title,
			URL:         a.URL,
			SourceName:  a.Source.Title,
			PublishedAt: a.DateTime,
		}
		if a.Body != "" {
			cand.Snippet = snippetOf(a.Body)
			cand.ProviderData = map[string]string{"body": a.Body}
		}
		result.Items, result.Metrics.PreFiltered = screen(result.Items, result.Metrics.PreFiltered, cand, opts)
	}

	return result, nil
}

// snippetOf trims a provider body down to snippet length.
func snippetOf(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > 280 {
		return body[:280]
	}
	return body
}
