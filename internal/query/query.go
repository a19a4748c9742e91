// Package query derives provider-specific query shapes from a raw topic.
// Upstream providers speak incompatible dialects (boolean OR syntax, quoted
// phrases, keyword lists), so all of that normalization is concentrated here
// and the connectors stay thin.
package query

import (
	"regexp"
	"strings"

	"storymill/internal/core"
)

// Overrides lets a caller supply pre-shaped queries per provider instead of
// deriving everything from the topic.
type Overrides struct {
	Main          string
	WebSearch     string
	NewsAPI       string
	EventRegistry []string
}

const (
	maxTokens             = 24
	maxWebSearchSegments  = 6
	maxEventKeywords      = 15
	eventKeywordBudget    = 15
	maxUnquotedPhraseSize = 5
)

var (
	tokenCleanRe  = regexp.MustCompile(`[^a-z0-9\s-]`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	acronymRe     = regexp.MustCompile(`[A-Z]{2,}`)
	properPairRe  = regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]`)
	punctuationRe = regexp.MustCompile(`^[^a-z0-9]+$`)
)

// stopwords is a closed list of generic English and news-filler terms that
// carry no relevance signal.
var stopwords = map[string]bool{
	"a": true, "about": true, "after": true, "all": true, "also": true,
	"an": true, "and": true, "any": true, "are": true, "as": true,
	"at": true, "be": true, "been": true, "best": true, "breaking": true,
	"but": true, "by": true, "can": true, "could": true, "daily": true,
	"for": true, "from": true, "has": true, "have": true, "how": true,
	"in": true, "into": true, "is": true, "it": true, "its": true,
	"latest": true, "more": true, "most": true, "new": true, "news": true,
	"not": true, "of": true, "on": true, "or": true, "over": true,
	"recent": true, "report": true, "reports": true, "said": true,
	"says": true, "should": true, "so": true, "story": true, "than": true,
	"that": true, "the": true, "their": true, "them": true, "then": true,
	"these": true, "they": true, "this": true, "to": true, "today": true,
	"top": true, "update": true, "updates": true, "was": true, "were": true,
	"what": true, "when": true, "which": true, "will": true, "with": true,
	"would": true,
}

// Normalize builds a full query plan from a topic and optional per-provider
// overrides.
func Normalize(topic string, ov Overrides) core.QueryPlan {
	main := strings.TrimSpace(ov.Main)
	if main == "" {
		main = strings.TrimSpace(topic)
	}

	plan := core.QueryPlan{
		Main:   main,
		Tokens: Tokenize(main),
	}

	if ov.WebSearch != "" {
		plan.WebSearchQuery = ov.WebSearch
	} else {
		plan.WebSearchQuery = WebSearchQuery(main)
	}

	if ov.NewsAPI != "" {
		plan.NewsAPIQuery = ov.NewsAPI
		plan.NewsAPIFallbackQuery = newsAPIFallback(segments(ov.NewsAPI))
	} else {
		plan.NewsAPIQuery, plan.NewsAPIFallbackQuery = NewsAPIQuery(main)
	}

	if len(ov.EventRegistry) > 0 {
		plan.EventRegistryKeywords = BudgetKeywords(ov.EventRegistry, eventKeywordBudget)
	} else {
		plan.EventRegistryKeywords = EventRegistryKeywords(main)
	}

	return plan
}

// Tokenize lower-cases, strips everything outside [a-z0-9 -], expands
// hyphenated tokens into joined and split forms, drops stopwords, dedupes,
// and caps the result at 24 tokens. When stopword filtering removes
// everything it falls back to the unfiltered tokens so downstream relevance
// scoring is not identically zero.
func Tokenize(s string) []string {
	cleaned := tokenCleanRe.ReplaceAllString(strings.ToLower(s), " ")
	raw := strings.Fields(cleaned)

	var expanded []string
	for _, tok := range raw {
		tok = strings.Trim(tok, "-")
		if tok == "" {
			continue
		}
		expanded = append(expanded, tok)
		if strings.Contains(tok, "-") {
			expanded = append(expanded, strings.ReplaceAll(tok, "-", ""))
			expanded = append(expanded, strings.Split(tok, "-")...)
		}
	}

	seen := make(map[string]bool)
	var filtered, unfiltered []string
	for _, tok := range expanded {
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		unfiltered = append(unfiltered, tok)
		if !stopwords[tok] {
			filtered = append(filtered, tok)
		}
	}

	out := filtered
	if len(out) == 0 {
		out = unfiltered
	}
	if len(out) > maxTokens {
		out = out[:maxTokens]
	}
	return out
}

// WebSearchQuery produces an OR-joined query for web-search-style providers.
// Multi-word segments are quoted only when they look like proper nouns or
// acronyms; generic phrases search better unquoted.
func WebSearchQuery(main string) string {
	segs := segments(main)
	if len(segs) > maxWebSearchSegments {
		segs = segs[:maxWebSearchSegments]
	}

	var parts []string
	for _, seg := range segs {
		if strings.Contains(seg, " ") && looksProper(seg) {
			parts = append(parts, `"`+seg+`"`)
		} else {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, " OR ")
}

// NewsAPIQuery produces the primary quoted-OR query plus a bag-of-tokens
// fallback for upstreams that reject boolean syntax.
func NewsAPIQuery(main string) (primary, fallback string) {
	segs := segments(main)

	var parts []string
	for _, seg := range segs {
		if strings.Contains(seg, " ") {
			parts = append(parts, `"`+seg+`"`)
		} else {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, " OR "), newsAPIFallback(segs)
}

// newsAPIFallback joins the first three segments with implicit AND.
func newsAPIFallback(segs []string) string {
	if len(segs) > 3 {
		segs = segs[:3]
	}
	return strings.TrimSpace(strings.Join(segs, " "))
}

// EventRegistryKeywords derives an ordered keyword list from the topic,
// subject to the shared token budget.
func EventRegistryKeywords(main string) []string {
	return BudgetKeywords(segments(main), eventKeywordBudget)
}

// BudgetKeywords fits candidate keywords into a total token budget. Quoted
// phrases are kept verbatim; unquoted phrases are compressed by dropping
// stopwords and truncating to five tokens. Degenerate keywords (bare
// booleans, pure punctuation) are discarded.
func BudgetKeywords(candidates []string, budget int) []string {
	var out []string
	used := 0

	for _, kw := range candidates {
		if len(out) >= maxEventKeywords {
			break
		}
		kw = strings.TrimSpace(kw)
		if kw == "" || isDegenerate(kw) {
			continue
		}

		quoted := strings.HasPrefix(kw, `"`) && strings.HasSuffix(kw, `"`)
		inner := strings.Trim(kw, `"`)
		words := strings.Fields(inner)

		if !quoted && len(words) > 1 {
			words = compressPhrase(words)
			if len(words) == 0 {
				continue
			}
		}

		if used+len(words) > budget {
			// Prefer quoted phrases when the budget runs out: unquoted
			// phrases can shrink, quoted ones must fit whole.
			if quoted || len(words) == 1 {
				continue
			}
			remaining := budget - used
			if remaining <= 0 {
				break
			}
			words = words[:remaining]
		}

		keyword := strings.Join(words, " ")
		if quoted {
			keyword = `"` + keyword + `"`
		}
		if isDegenerate(keyword) {
			continue
		}
		out = append(out, keyword)
		used += len(words)
	}
	return out
}

// compressPhrase drops stopwords from a phrase and truncates it to five
// tokens.
func compressPhrase(words []string) []string {
	var kept []string
	for _, w := range words {
		if !stopwords[strings.ToLower(w)] {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		kept = words
	}
	if len(kept) > maxUnquotedPhraseSize {
		kept = kept[:maxUnquotedPhraseSize]
	}
	return kept
}

// segments splits a topic into comma-delimited query segments, falling back
// to the whole topic as a single segment.
func segments(main string) []string {
	var segs []string
	for _, part := range strings.FieldsFunc(main, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	}) {
		part = strings.TrimSpace(part)
		if part != "" {
			segs = append(segs, part)
		}
	}
	return segs
}

// looksProper reports whether a segment reads as a proper noun or acronym:
// at least two consecutive capitalized words, or a run of two or more
// uppercase letters.
func looksProper(seg string) bool {
	return properPairRe.MatchString(seg) || acronymRe.MatchString(seg)
}

// isDegenerate reports whether a keyword carries no searchable content.
func isDegenerate(kw string) bool {
	lower := strings.ToLower(strings.Trim(kw, `"`))
	if lower == "or" || lower == "and" || lower == "not" {
		return true
	}
	return punctuationRe.MatchString(lower) || strings.TrimSpace(lower) == ""
}
