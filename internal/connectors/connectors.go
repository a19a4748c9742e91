// Package connectors holds the thin adapters to the upstream retrieval
// providers. Connectors receive already-normalized queries (see
// internal/query), apply the shared pre-filter to every candidate, and
// report expected provider failures through metrics instead of errors.
package connectors

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storymill/internal/core"
	"storymill/internal/prefilter"
)

// Options carries the per-run knobs every connector honors.
type Options struct {
	RecencyHours int
	Tokens       []string
	RawQuery     string
	Now          time.Time
}

// Metrics is the connector-level accounting attached to a fetch result.
type Metrics struct {
	Disabled    bool
	Failed      bool
	Error       string
	Returned    int
	PreFiltered int
}

// Result is what one connector produced for one run.
type Result struct {
	Provider  core.Provider
	FetchedAt time.Time
	Query     string
	Items     []core.Candidate
	Metrics   Metrics
}

// Connector is a single upstream retrieval adapter. Fetch never returns an
// error for expected provider failures; those surface as Metrics.Failed with
// Metrics.Error set. The returned error is reserved for catastrophic cases
// the orchestrator's safety wrapper converts into a failed result.
type Connector interface {
	Provider() core.Provider
	Fetch(ctx context.Context, plan core.QueryPlan, opts Options) (Result, error)
}

// disabledResult is the shared shape for connectors whose credentials are
// absent or whose config flag is off.
func disabledResult(p core.Provider) Result {
	return Result{
		Provider:  p,
		FetchedAt: time.Now().UTC(),
		Metrics:   Metrics{Disabled: true},
	}
}

func failedResult(p core.Provider, query string, err error) Result {
	return Result{
		Provider:  p,
		FetchedAt: time.Now().UTC(),
		Query:     query,
		Metrics:   Metrics{Failed: true, Error: err.Error()},
	}
}

// cutoff returns the oldest acceptable publish time for the recency window.
func cutoff(opts Options) time.Time {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	hours := opts.RecencyHours
	if hours <= 0 {
		hours = 24
	}
	return now.Add(-time.Duration(hours) * time.Hour)
}

// hostOf extracts the lowercased hostname from a raw URL, without the www
// prefix.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// screen applies the shared pre-filter and, when the candidate passes,
// appends it to items. It returns the updated slices and pre-filter count.
func screen(items []core.Candidate, preFiltered int, cand core.Candidate, opts Options) ([]core.Candidate, int) {
	decision := prefilter.Check(cand.URL, cand.Title, cand.Snippet, opts.Tokens)
	if !decision.Pass {
		return items, preFiltered + 1
	}
	if cand.ID == "" {
		cand.ID = core.ArticleID(cand.URL)
	}
	return append(items, cand), preFiltered
}

// defaultClient is used when a connector is constructed without an explicit
// HTTP client. Connector clients are shared and safe for concurrent use.
func defaultClient() *http.Client {
	return &http.Client{Timeout: 20 * time.Second}
}
