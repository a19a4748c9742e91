// Package prefilter applies cheap URL/title/snippet heuristics to search
// candidates before any network fetch is spent on them.
package prefilter

import (
	"net/url"
	"strings"
)

// Rejection reasons form a closed set so metrics stay aggregatable.
const (
	ReasonEmptyURL        = "empty_url"
	ReasonBannedPath      = "banned_path"
	ReasonBannedFragment  = "banned_fragment"
	ReasonTitleTooShort   = "title_too_short"
	ReasonSnippetTooShort = "snippet_too_short"
	ReasonLowRelevance    = "low_relevance"
)

const (
	minTitleLen     = 15
	minSnippetLen   = 30
	minTokenOverlap = 0.10
	minUsableTokens = 2
	minUsableTokLen = 2
)

// bannedPathSegments flags URL paths that are almost never articles.
var bannedPathSegments = []string{
	"/about", "/contact", "/pricing", "/careers", "/jobs", "/docs",
	"/documentation", "/login", "/signin", "/signup", "/register",
	"/cart", "/checkout", "/search", "/tag/", "/tags/", "/category/",
	"/author/", "/privacy", "/terms", "/subscribe", "/newsletter",
	"/sitemap", "/advertise",
}

// bannedFragments flags URL substrings that mark tracking links, comment
// anchors, and feed endpoints.
var bannedFragments = []string{
	"utm_", "#comment", "#respond", "/feed", "/rss.xml", "?share=",
	"mailto:", "javascript:",
}

// Decision is the outcome of a pre-filter check.
type Decision struct {
	Pass   bool
	Reason string
}

func pass() Decision                { return Decision{Pass: true} }
func reject(reason string) Decision { return Decision{Reason: reason} }

// Check runs the pre-filter heuristics over one candidate. queryTokens are
// the normalized topic tokens used for the quick relevance estimate.
func Check(rawURL, title, snippet string, queryTokens []string) Decision {
	if strings.TrimSpace(rawURL) == "" {
		return reject(ReasonEmptyURL)
	}

	lowered := strings.ToLower(rawURL)
	for _, frag := range bannedFragments {
		if strings.Contains(lowered, frag) {
			return reject(ReasonBannedFragment)
		}
	}

	if u, err := url.Parse(rawURL); err == nil {
		path := strings.ToLower(u.Path)
		for _, seg := range bannedPathSegments {
			if strings.Contains(path, seg) {
				return reject(ReasonBannedPath)
			}
		}
	}

	if len(strings.TrimSpace(title)) < minTitleLen {
		return reject(ReasonTitleTooShort)
	}
	if len(strings.TrimSpace(snippet)) < minSnippetLen {
		return reject(ReasonSnippetTooShort)
	}

	if overlap, ok := tokenOverlap(title+" "+snippet, queryTokens); ok && overlap < minTokenOverlap {
		return reject(ReasonLowRelevance)
	}

	return pass()
}

// tokenOverlap returns the fraction of query tokens present as substrings of
// the candidate text. The second return is false when the query has too few
// substantial tokens for the overlap signal to mean anything.
func tokenOverlap(text string, queryTokens []string) (float64, bool) {
	usable := 0
	for _, tok := range queryTokens {
		if len(tok) > minUsableTokLen {
			usable++
		}
	}
	if usable < minUsableTokens {
		return 0, false
	}

	lowered := strings.ToLower(text)
	matched := 0
	for _, tok := range queryTokens {
		if strings.Contains(lowered, strings.ToLower(tok)) {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens)), true
}
