// Package rank deduplicates, scores, and clusters accepted articles.
package rank

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"storymill/internal/core"
)

const (
	recencyWeight   = 0.40
	relevanceWeight = 0.35
	qualityWeight   = 0.25

	// qualityWordCeiling is the word count at which the quality component
	// saturates.
	qualityWordCeiling = 1200

	// similarityPrefixLen bounds the title+excerpt text used for both
	// similarity dedupe and clustering.
	similarityPrefixLen = 600

	// DefaultSimilarityThreshold is the cosine cutoff for similarity dedupe.
	DefaultSimilarityThreshold = 0.78
)

// domainWeights is the closed adjustment table applied on top of the base
// score. PR wire services syndicate widely and rank everything they carry
// down; known low-credibility hosts rank down harder.
var domainWeights = map[string]float64{
	"prnewswire.com":    -0.20,
	"businesswire.com":  -0.20,
	"globenewswire.com": -0.20,
	"prweb.com":         -0.20,
	"newsmax.com":       -0.40,
}

// DedupeByCanonicalURL collapses articles sharing a lowercased canonical URL
// onto the first occurrence. It returns the survivors in input order and the
// per-provider count of removed duplicates. Applying it twice removes
// nothing new.
func DedupeByCanonicalURL(articles []core.NormalizedArticle) ([]core.NormalizedArticle, map[core.Provider]int) {
	seen := make(map[string]bool, len(articles))
	removed := make(map[core.Provider]int)
	kept := make([]core.NormalizedArticle, 0, len(articles))

	for _, a := range articles {
		key := strings.ToLower(a.CanonicalURL)
		if seen[key] {
			removed[a.Provenance.Provider]++
			continue
		}
		seen[key] = true
		kept = append(kept, a)
	}
	return kept, removed
}

// SimilarityDedupe removes articles whose title+excerpt prefix is
// near-identical to an earlier survivor, by token-bag cosine similarity.
// A non-positive threshold falls back to the default.
func SimilarityDedupe(articles []core.NormalizedArticle, threshold float64) []core.NormalizedArticle {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	kept := make([]core.NormalizedArticle, 0, len(articles))
	bags := make([]map[string]int, 0, len(articles))

	for _, a := range articles {
		bag := tokenBag(similarityText(a))
		dup := false
		for _, existing := range bags {
			if cosine(bag, existing) >= threshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, a)
		bags = append(bags, bag)
	}
	return kept
}

// Score ranks an article by recency, relevance, and body length, adjusted by
// the domain weight table, clamped at zero and rounded to 4 decimals.
func Score(article core.NormalizedArticle, now time.Time, recencyHours int) float64 {
	if recencyHours <= 0 {
		recencyHours = 24
	}

	recency := 0.0
	if published := core.ParseTime(article.PublishedAt); !published.IsZero() {
		age := now.Sub(published).Hours() / float64(recencyHours)
		recency = 1 - math.Min(age, 1)
		if recency < 0 {
			recency = 0
		}
	}

	quality := math.Min(float64(article.Quality.WordCount)/qualityWordCeiling, 1)
	base := recencyWeight*recency + relevanceWeight*article.Quality.RelevanceScore + qualityWeight*quality

	score := base + domainWeights[strings.ToLower(article.SourceHost)]
	if score < 0 {
		score = 0
	}
	return math.Round(score*10000) / 10000
}

// ClusterOptions configures greedy agglomerative clustering.
type ClusterOptions struct {
	ClusterThreshold float64
	AttachThreshold  float64
	MaxClusters      int
}

func (o ClusterOptions) withDefaults() ClusterOptions {
	if o.ClusterThreshold <= 0 {
		o.ClusterThreshold = 0.65
	}
	if o.AttachThreshold <= 0 {
		o.AttachThreshold = 0.55
	}
	if o.MaxClusters <= 0 {
		o.MaxClusters = 5
	}
	return o
}

type ranked struct {
	article core.NormalizedArticle
	score   float64
}

type cluster struct {
	representative ranked
	repText        string
	members        []ranked
	reasons        []string
}

// Cluster groups ranked articles into story clusters. Articles are visited
// in descending score order; each joins the most similar existing cluster
// when similarity clears the cluster threshold (promoting itself to
// representative if higher-scored), attaches as a secondary member above the
// attach threshold, starts a new cluster while room remains, and is
// otherwise dropped. The result is sorted by cluster score descending.
func Cluster(articles []core.NormalizedArticle, now time.Time, recencyHours int, opts ClusterOptions) []core.StoryCluster {
	opts = opts.withDefaults()

	order := make([]ranked, 0, len(articles))
	for _, a := range articles {
		order = append(order, ranked{article: a, score: Score(a, now, recencyHours)})
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].score > order[j].score })

	var clusters []*cluster
	for _, r := range order {
		text := similarityText(r.article)

		bestIdx, bestSim := -1, 0.0
		for i, c := range clusters {
			if sim := shingleJaccard(text, c.repText); sim > bestSim {
				bestIdx, bestSim = i, sim
			}
		}

		switch {
		case bestIdx >= 0 && bestSim >= opts.ClusterThreshold:
			c := clusters[bestIdx]
			c.members = append(c.members, r)
			c.reasons = appendUnique(c.reasons, "similar coverage")
			if r.score > c.representative.score {
				c.representative = r
				c.repText = text
			}
		case bestIdx >= 0 && bestSim >= opts.AttachThreshold:
			clusters[bestIdx].members = append(clusters[bestIdx].members, r)
			clusters[bestIdx].reasons = appendUnique(clusters[bestIdx].reasons, "related coverage")
		case len(clusters) < opts.MaxClusters:
			clusters = append(clusters, &cluster{
				representative: r,
				repText:        text,
				members:        []ranked{r},
			})
		}
	}

	out := make([]core.StoryCluster, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, c.finish())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// finish orders members representative-first and builds citations.
func (c *cluster) finish() core.StoryCluster {
	members := make([]core.NormalizedArticle, 0, len(c.members))
	members = append(members, c.representative.article)
	for _, m := range c.members {
		if m.article.ID != c.representative.article.ID {
			members = append(members, m.article)
		}
	}

	citations := make([]core.Citation, 0, len(members))
	for _, m := range members {
		citations = append(citations, core.Citation{Title: m.Title, URL: m.CanonicalURL})
	}

	return core.StoryCluster{
		ClusterID:      uuid.NewSHA1(uuid.NameSpaceURL, []byte("cluster:"+strings.ToLower(c.representative.article.CanonicalURL))).String(),
		Representative: c.representative.article,
		Members:        members,
		Score:          c.representative.score,
		Reasons:        c.reasons,
		Citations:      citations,
	}
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

func similarityText(a core.NormalizedArticle) string {
	text := a.Title + " " + a.Excerpt
	if len(text) > similarityPrefixLen {
		cut := similarityPrefixLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return strings.ToLower(text)
}

var rankTokenRe = regexp.MustCompile(`[a-z0-9]+`)

func tokenBag(text string) map[string]int {
	bag := make(map[string]int)
	for _, tok := range rankTokenRe.FindAllString(text, -1) {
		bag[tok]++
	}
	return bag
}

func cosine(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for tok, count := range a {
		normA += float64(count * count)
		if other, ok := b[tok]; ok {
			dot += float64(count * other)
		}
	}
	for _, count := range b {
		normB += float64(count * count)
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// shingleSize is the token-shingle width for clustering similarity.
const shingleSize = 2

// shingleJaccard computes Jaccard similarity over token bigrams. Texts too
// short to shingle fall back to unigram sets.
func shingleJaccard(a, b string) float64 {
	setA := shingles(a)
	setB := shingles(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for s := range setA {
		if setB[s] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func shingles(text string) map[string]bool {
	tokens := rankTokenRe.FindAllString(text, -1)
	set := make(map[string]bool)
	if len(tokens) < shingleSize {
		for _, tok := range tokens {
			set[tok] = true
		}
		return set
	}
	for i := 0; i+shingleSize <= len(tokens); i++ {
		set[strings.Join(tokens[i:i+shingleSize], " ")] = true
	}
	return set
}
