// Package filter applies post-extraction acceptance rules to normalized
// articles. Rejection reasons come from a closed set so downstream metrics
// can aggregate them without string churn.
package filter

import (
	"strings"
	"time"

	"storymill/internal/core"
)

// Rejection reasons.
const (
	ReasonTooOld             = "too_old"
	ReasonTooOldInferred     = "too_old_inferred"
	ReasonTooShort           = "too_short"
	ReasonInsufficientUnique = "insufficient_unique_words"
	ReasonLowRelevance       = "low_relevance"
	ReasonBannedSource       = "banned_source"
	ReasonPromoContent       = "promo_content"
)

// Warnings.
const WarningMissingPublishedAt = "missing_published_at"

// inferredDateSlack loosens the recency window for dates that were guessed
// from body text rather than read from structured metadata.
const inferredDateSlack = 1.25

// promoPhrases is the closed list of promotional markers. An article is
// rejected only when matches exceed MaxPromoPhraseMatches, so a single press
// mention does not sink a legitimate story.
var promoPhrases = []string{
	"sign up for our newsletter",
	"subscribe now",
	"limited time offer",
	"use promo code",
	"buy now",
	"sponsored content",
	"this post contains affiliate links",
	"click here to learn more",
	"special discount",
	"free trial",
}

// Options holds the acceptance thresholds for one run.
type Options struct {
	RecencyHours          int
	MinWordCount          int
	MinUniqueWords        int
	MinRelevance          float64
	MaxPromoPhraseMatches int
	BannedSources         []string
	Now                   time.Time
}

func (o Options) withDefaults() Options {
	if o.RecencyHours <= 0 {
		o.RecencyHours = 24
	}
	if o.MinWordCount <= 0 {
		o.MinWordCount = 120
	}
	if o.MinUniqueWords <= 0 {
		o.MinUniqueWords = 60
	}
	if o.MinRelevance <= 0 {
		o.MinRelevance = 0.1
	}
	if o.MaxPromoPhraseMatches <= 0 {
		o.MaxPromoPhraseMatches = 2
	}
	if o.Now.IsZero() {
		o.Now = time.Now().UTC()
	}
	return o
}

// Verdict is the outcome of evaluating one article. Accept is true iff
// Reasons is empty; Warnings never block acceptance.
type Verdict struct {
	Accept   bool
	Reasons  []string
	Warnings []string
}

// Evaluate checks an article against the run's acceptance rules.
func Evaluate(article *core.NormalizedArticle, opts Options) Verdict {
	opts = opts.withDefaults()
	var v Verdict

	published := core.ParseTime(article.PublishedAt)
	if published.IsZero() {
		v.Warnings = append(v.Warnings, WarningMissingPublishedAt)
	} else {
		window := time.Duration(opts.RecencyHours) * time.Hour
		reason := ReasonTooOld
		if article.PublishedAtGuess {
			window = time.Duration(float64(window) * inferredDateSlack)
			reason = ReasonTooOldInferred
		}
		if opts.Now.Sub(published) > window {
			v.Reasons = append(v.Reasons, reason)
		}
	}

	if article.Quality.WordCount < opts.MinWordCount {
		v.Reasons = append(v.Reasons, ReasonTooShort)
	}
	if article.Quality.UniqueWordCount < opts.MinUniqueWords {
		v.Reasons = append(v.Reasons, ReasonInsufficientUnique)
	}
	if article.Quality.RelevanceScore < opts.MinRelevance {
		v.Reasons = append(v.Reasons, ReasonLowRelevance)
	}
	if bannedSource(article.SourceHost, opts.BannedSources) {
		v.Reasons = append(v.Reasons, ReasonBannedSource)
	}
	if countPromoPhrases(article.Body) > opts.MaxPromoPhraseMatches {
		v.Reasons = append(v.Reasons, ReasonPromoContent)
	}

	v.Accept = len(v.Reasons) == 0
	return v
}

func bannedSource(host string, banned []string) bool {
	host = strings.ToLower(host)
	for _, b := range banned {
		b = strings.ToLower(strings.TrimSpace(b))
		if b == "" {
			continue
		}
		if host == b || strings.HasSuffix(host, "."+b) {
			return true
		}
	}
	return false
}

func countPromoPhrases(body string) int {
	lower := strings.ToLower(body)
	matches := 0
	for _, phrase := range promoPhrases {
		matches += strings.Count(lower, phrase)
	}
	return matches
}
