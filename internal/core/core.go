// Package core defines the value types shared across the retrieval pipeline.
package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider identifies an upstream retrieval source.
type Provider string

const (
	ProviderWebSearch     Provider = "web-search"
	ProviderWebNewsRSS    Provider = "web-news-rss"
	ProviderNewsAPI       Provider = "news-api"
	ProviderEventRegistry Provider = "event-registry"
)

// AllProviders lists every provider in the fixed round-robin order used by
// the orchestrator when drawing candidates from per-provider queues.
var AllProviders = []Provider{
	ProviderWebSearch,
	ProviderWebNewsRSS,
	ProviderNewsAPI,
	ProviderEventRegistry,
}

func (p Provider) String() string { return string(p) }

// Candidate is a single search hit before extraction.
type Candidate struct {
	ID           string            `json:"id"`
	Provider     Provider          `json:"provider"`
	Title        string            `json:"title"`
	URL          string            `json:"url"`
	Snippet      string            `json:"snippet,omitempty"`
	SourceName   string            `json:"sourceName,omitempty"`
	PublishedAt  string            `json:"publishedAt,omitempty"`
	ProviderData map[string]string `json:"providerData,omitempty"`
}

// Quality carries the extraction-time quality signals for an article.
type Quality struct {
	WordCount       int     `json:"wordCount"`
	UniqueWordCount int     `json:"uniqueWordCount"`
	RelevanceScore  float64 `json:"relevanceScore"`
}

// Provenance records which provider produced an article.
type Provenance struct {
	Provider   Provider `json:"provider"`
	ProviderID string   `json:"providerId,omitempty"`
}

// NormalizedArticle is the extractor's output: a fetched, parsed, and
// canonicalized article ready for filtering and ranking.
type NormalizedArticle struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	CanonicalURL     string     `json:"canonicalUrl"`
	SourceHost       string     `json:"sourceHost"`
	SourceName       string     `json:"sourceName,omitempty"`
	PublishedAt      string     `json:"publishedAt,omitempty"`
	ModifiedAt       string     `json:"modifiedAt,omitempty"`
	PublishedAtGuess bool       `json:"publishedAtGuess,omitempty"`
	Excerpt          string     `json:"excerpt,omitempty"`
	Body             string     `json:"body"`
	HasExtractedBody bool       `json:"hasExtractedBody"`
	Quality          Quality    `json:"quality"`
	Provenance       Provenance `json:"provenance"`
}

// ArticleID derives a deterministic article identifier from a canonical URL.
// The same canonical URL always maps to the same ID, which makes artifact
// writes idempotent.
func ArticleID(canonicalURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.ToLower(canonicalURL))).String()
}

// ExtractionError pairs a candidate URL with the error that prevented its
// extraction.
type ExtractionError struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// ProviderMetrics accumulates per-provider accounting over one run. It is
// mutated only by the orchestrator.
type ProviderMetrics struct {
	Returned int `json:"returned"`
	Deduped  int `json:"deduped"`
	Unique   int `json:"unique"`
	Queued   int `json:"queued"`
	Skipped  int `json:"skipped"`
	// Screened counts candidates the connector itself dropped before
	// aggregation; PreFiltered counts post-extraction rejections.
	Screened           int               `json:"screened"`
	PreFiltered        int               `json:"preFiltered"`
	ExtractionAttempts int               `json:"extractionAttempts"`
	Accepted           int               `json:"accepted"`
	MissingPublishedAt int               `json:"missingPublishedAt"`
	Disabled           bool              `json:"disabled,omitempty"`
	Failed             bool              `json:"failed,omitempty"`
	Error              string            `json:"error,omitempty"`
	Query              string            `json:"query,omitempty"`
	ExtractionErrors   []ExtractionError `json:"extractionErrors,omitempty"`
	RejectionReasons   map[string]int    `json:"rejectionReasons,omitempty"`
}

// RetrievalMetrics aggregates the accounting for a whole run.
type RetrievalMetrics struct {
	CandidateCount       int                           `json:"candidateCount"`
	PreFiltered          int                           `json:"preFiltered"`
	AttemptedExtractions int                           `json:"attemptedExtractions"`
	Accepted             int                           `json:"accepted"`
	DuplicatesRemoved    int                           `json:"duplicatesRemoved"`
	NewestArticleHours   float64                       `json:"newestArticleHours,omitempty"`
	OldestArticleHours   float64                       `json:"oldestArticleHours,omitempty"`
	PerProvider          map[Provider]*ProviderMetrics `json:"perProvider"`
	ExtractionErrors     []ExtractionError             `json:"extractionErrors,omitempty"`
}

// Citation is a title/URL pair attached to a story cluster.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// StoryCluster groups near-duplicate stories about one event. The
// representative is always members[0] and carries the cluster score.
type StoryCluster struct {
	ClusterID      string              `json:"clusterId"`
	Representative NormalizedArticle   `json:"representative"`
	Members        []NormalizedArticle `json:"members"`
	Score          float64             `json:"score"`
	Reasons        []string            `json:"reasons,omitempty"`
	Citations      []Citation          `json:"citations"`
}

// QueryPlan holds the provider-specific query shapes derived from one topic.
type QueryPlan struct {
	Main                  string   `json:"main"`
	WebSearchQuery        string   `json:"webSearchQuery"`
	NewsAPIQuery          string   `json:"newsApiQuery"`
	NewsAPIFallbackQuery  string   `json:"newsApiFallbackQuery"`
	EventRegistryKeywords []string `json:"eventRegistryKeywords"`
	Tokens                []string `json:"tokens"`
}

// ParseTime parses an RFC3339-ish timestamp the way providers emit them.
// Returns the zero time when the value is absent or unparseable.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
