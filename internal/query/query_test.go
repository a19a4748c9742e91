package query

import (
	"reflect"
	"strings"
	"testing"
)

func TestTokenizeDropsStopwordsAndDedupes(t *testing.T) {
	tokens := Tokenize("The latest news about the OpenAI board, the OpenAI board")

	for _, tok := range tokens {
		if stopwords[tok] {
			t.Errorf("Expected stopword %q to be dropped", tok)
		}
	}

	seen := make(map[string]int)
	for _, tok := range tokens {
		seen[tok]++
	}
	for tok, count := range seen {
		if count > 1 {
			t.Errorf("Expected token %q to appear once, got %d", tok, count)
		}
	}
}

func TestTokenizeExpandsHyphens(t *testing.T) {
	tokens := Tokenize("next-gen batteries")

	want := map[string]bool{"next-gen": true, "nextgen": true, "next": true, "gen": true, "batteries": true}
	for expected := range want {
		found := false
		for _, tok := range tokens {
			if tok == expected {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected hyphen expansion to include %q, got %v", expected, tokens)
		}
	}
}

func TestTokenizeAllStopwordsFallsBack(t *testing.T) {
	tokens := Tokenize("the latest news today")
	if len(tokens) == 0 {
		t.Error("Expected fallback to unfiltered tokens, got none")
	}
}

func TestTokenizeCap(t *testing.T) {
	var words []string
	for i := 0; i < 40; i++ {
		words = append(words, "word"+strings.Repeat("x", i+1))
	}
	tokens := Tokenize(strings.Join(words, " "))
	if len(tokens) > maxTokens {
		t.Errorf("Expected at most %d tokens, got %d", maxTokens, len(tokens))
	}
}

func TestWebSearchQueryQuotesProperNouns(t *testing.T) {
	got := WebSearchQuery("European Central Bank, interest rates")
	if !strings.Contains(got, `"European Central Bank"`) {
		t.Errorf("Expected proper noun segment to be quoted, got %q", got)
	}
	if strings.Contains(got, `"interest rates"`) {
		t.Errorf("Expected generic segment to stay unquoted, got %q", got)
	}
	if !strings.Contains(got, " OR ") {
		t.Errorf("Expected OR-joined segments, got %q", got)
	}
}

func TestNewsAPIQueryQuotesMultiWordSegments(t *testing.T) {
	primary, fallback := NewsAPIQuery("chip export controls, semiconductors")

	if !strings.Contains(primary, `"chip export controls"`) {
		t.Errorf("Expected multiword segment quoted in primary query, got %q", primary)
	}
	if strings.Contains(fallback, `"`) {
		t.Errorf("Expected fallback query without quotes, got %q", fallback)
	}
	if fallback == "" {
		t.Error("Expected non-empty fallback query")
	}
}

func TestBudgetKeywordsRespectsBudget(t *testing.T) {
	candidates := []string{
		`"global supply chain disruption"`,
		"semiconductor manufacturing equipment export controls and restrictions",
		"chips",
		"or",
		"!!!",
	}
	keywords := BudgetKeywords(candidates, 8)

	used := 0
	for _, kw := range keywords {
		if isDegenerate(kw) {
			t.Errorf("Expected degenerate keywords to be dropped, got %q", kw)
		}
		used += len(strings.Fields(strings.Trim(kw, `"`)))
	}
	if used > 8 {
		t.Errorf("Expected at most 8 tokens used, got %d", used)
	}
}

func TestBudgetKeywordsKeepsQuotedPhrasesVerbatim(t *testing.T) {
	keywords := BudgetKeywords([]string{`"European Central Bank"`}, 15)
	if len(keywords) != 1 || keywords[0] != `"European Central Bank"` {
		t.Errorf("Expected quoted phrase kept verbatim, got %v", keywords)
	}
}

func TestNormalizeUsesOverrides(t *testing.T) {
	plan := Normalize("ignored topic", Overrides{
		Main:          "solar power subsidies",
		WebSearch:     "custom web query",
		NewsAPI:       "custom news query",
		EventRegistry: []string{"solar", "subsidies"},
	})

	if plan.Main != "solar power subsidies" {
		t.Errorf("Expected override main, got %q", plan.Main)
	}
	if plan.WebSearchQuery != "custom web query" {
		t.Errorf("Expected override web search query, got %q", plan.WebSearchQuery)
	}
	if plan.NewsAPIQuery != "custom news query" {
		t.Errorf("Expected override news API query, got %q", plan.NewsAPIQuery)
	}
	if !reflect.DeepEqual(plan.EventRegistryKeywords, []string{"solar", "subsidies"}) {
		t.Errorf("Expected override event registry keywords, got %v", plan.EventRegistryKeywords)
	}
}

func TestNormalizeDerivesAllShapes(t *testing.T) {
	plan := Normalize("electric vehicle battery recycling", Overrides{})

	if plan.Main != "electric vehicle battery recycling" {
		t.Errorf("Expected main query preserved, got %q", plan.Main)
	}
	if plan.WebSearchQuery == "" {
		t.Error("Expected derived web search query")
	}
	if plan.NewsAPIQuery == "" || plan.NewsAPIFallbackQuery == "" {
		t.Error("Expected derived news API queries")
	}
	if len(plan.EventRegistryKeywords) == 0 {
		t.Error("Expected derived event registry keywords")
	}
	if len(plan.Tokens) == 0 {
		t.Error("Expected derived tokens")
	}
}
