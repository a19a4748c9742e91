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
	newsAPIEndpoint = "https://newsapi.org/v2/everything"
	newsAPIMaxPages = 5
)

// NewsAPIConfig configures the News API connector.
type NewsAPIConfig struct {
	APIKey   string
	PageSize int
	Enabled  bool
	BaseURL  string // test override
}

// NewsAPI issues paginated everything-style searches sorted by publish date.
type NewsAPI struct {
	cfg    NewsAPIConfig
	client *http.Client
}

// NewNewsAPI creates the News API connector. A nil client falls back to a
// shared default.
func NewNewsAPI(cfg NewsAPIConfig, client *http.Client) *NewsAPI {
	if client == nil {
		client = defaultClient()
	}
	return &NewsAPI{cfg: cfg, client: client}
}

func (n *NewsAPI) Provider() core.Provider { return core.ProviderNewsAPI }

var newsAPISanitizeRe = regexp.MustCompile(`[^a-z0-9\s-]`)

// sanitizeQuery strips everything the upstream chokes on from a
// non-structured query and collapses whitespace.
func sanitizeQuery(q string) string {
	cleaned := newsAPISanitizeRe.ReplaceAllString(strings.ToLower(q), " ")
	return strings.Join(strings.Fields(cleaned), " ")
}

// queryMalformed recognizes the upstream's complaint about boolean syntax,
// which is retried with the bag-of-tokens variant.
func queryMalformed(code, message string) bool {
	return strings.Contains(strings.ToLower(code), "query") ||
		strings.Contains(strings.ToLower(message), "query")
}

// Fetch tries at most two query variants: the quoted-phrase OR form, then a
// sanitized bag-of-tokens fallback when the first yields nothing or is
// rejected as malformed.
func (n *NewsAPI) Fetch(ctx context.Context, plan core.QueryPlan, opts Options) (Result, error) {
	if !n.cfg.Enabled || n.cfg.APIKey == "" {
		return disabledResult(n.Provider()), nil
	}

	variants := []string{plan.NewsAPIQuery}
	if fb := sanitizeQuery(plan.NewsAPIFallbackQuery); fb != "" {
		variants = append(variants, fb)
	}

	var lastErr error
	for i, query := range variants {
		if query == "" {
			continue
		}
		result, err := n.fetchAll(ctx, query, opts)
		if err != nil {
			var apiErr *newsAPIError
			if asNewsAPIError(err, &apiErr) && queryMalformed(apiErr.Code, apiErr.Message) && i < len(variants)-1 {
				logger.Warn("news api rejected query variant, retrying", "variant", i)
				lastErr = err
				continue
			}
			return failedResult(n.Provider(), query, err), nil
		}
		if len(result.Items) == 0 && i < len(variants)-1 {
			continue
		}
		return result, nil
	}

	if lastErr != nil {
		return failedResult(n.Provider(), variants[0], lastErr), nil
	}
	return Result{Provider: n.Provider(), FetchedAt: time.Now().UTC(), Query: variants[0]}, nil
}

type newsAPIError struct {
	Code    string
	Message string
}

func (e *newsAPIError) Error() string {
	return fmt.Sprintf("news api error (%s): %s", e.Code, e.Message)
}

func asNewsAPIError(err error, target **newsAPIError) bool {
	if apiErr, ok := err.(*newsAPIError); ok {
		*target = apiErr
		return true
	}
	return false
}

func (n *NewsAPI) fetchAll(ctx context.Context, query string, opts Options) (Result, error) {
	result := Result{
		Provider:  n.Provider(),
		FetchedAt: time.Now().UTC(),
		Query:     query,
	}

	pageSize := n.cfg.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	oldest := cutoff(opts)

	for page := 1; page <= newsAPIMaxPages; page++ {
		articles, total, err := n.fetchPage(ctx, query, opts, page, pageSize)
		if err != nil {
			return Result{}, err
		}

		for _, a := range articles {
			result.Metrics.Returned++
			if published := core.ParseTime(a.PublishedAt); !published.IsZero() && published.Before(oldest) {
				result.Metrics.PreFiltered++
				continue
			}
			cand := core.Candidate{
				Provider:    n.Provider(),
				Title:       a.Title,
				URL:         a.URL,
				Snippet:     a.Description,
				SourceName:  a.Source.Name,
				PublishedAt: a.PublishedAt,
			}
			if a.Content != "" {
				cand.ProviderData = map[string]string{"content": a.Content, "description": a.Description}
			}
			result.Items, result.Metrics.PreFiltered = screen(result.Items, result.Metrics.PreFiltered, cand, opts)
		}

		if len(articles) < pageSize || page*pageSize >= total {
			break
		}
	}

	return result, nil
}

type newsAPIArticle struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Content     string `json:"content"`
	PublishedAt string `json:"publishedAt"`
	Source      struct {
		Name string `json:"name"`
	} `json:"source"`
}

func (n *NewsAPI) fetchPage(ctx context.Context, query string, opts Options, page, pageSize int) ([]newsAPIArticle, int, error) {
	base := n.cfg.BaseURL
	if base == "" {
		base = newsAPIEndpoint
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("sortBy", "publishedAt")
	params.Set("pageSize", strconv.Itoa(pageSize))
	params.Set("page", strconv.Itoa(page))
	params.Set("from", cutoff(opts).Format(time.RFC3339))
	params.Set("to", now.Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create news api request: %w", err)
	}
	req.Header.Set("X-Api-Key", n.cfg.APIKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute news api request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var payload struct {
		Status       string           `json:"status"`
		Code         string           `json:"code"`
		Message      string           `json:"message"`
		TotalResults int              `json:"totalResults"`
		Articles     []newsAPIArticle `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, 0, fmt.Errorf("failed to parse news api response: %w", err)
	}

	if payload.Status == "error" {
		return nil, 0, &newsAPIError{Code: payload.Code, Message: payload.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("news api request failed with status %d", resp.StatusCode)
	}

	return payload.Articles, payload.TotalResults, nil
}
