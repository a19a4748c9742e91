// Package pipeline runs one retrieval pass end to end: query normalization,
// connector fan-out, bounded extraction, filtering, and finalize
// (dedupe, rank, cluster, persist).
package pipeline

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"storymill/internal/artifacts"
	"storymill/internal/connectors"
	"storymill/internal/core"
	"storymill/internal/emit"
	"storymill/internal/extractor"
	"storymill/internal/filter"
	"storymill/internal/logger"
	"storymill/internal/query"
	"storymill/internal/rank"
)

// Config holds the per-run budgets and thresholds the orchestrator enforces.
type Config struct {
	RecencyHours       int
	MinAccepted        int
	MaxAttempts        int
	MaxCandidates      int
	GlobalConcurrency  int
	PerHostConcurrency int
	FetchTimeout       time.Duration
	TotalBudget        time.Duration
	MinWordCount       int
	MinUniqueWords     int
	MinRelevance       float64
	ClusterThreshold   float64
	AttachThreshold    float64
	MaxClusters        int
	SimilarityDedupe   bool
	BannedSources      []string
}

func (c Config) withDefaults() Config {
	if c.RecencyHours <= 0 {
		c.RecencyHours = 24
	}
	if c.MinAccepted <= 0 {
		c.MinAccepted = 8
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 24
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 20
	}
	if c.GlobalConcurrency <= 0 {
		c.GlobalConcurrency = 4
	}
	if c.PerHostConcurrency <= 0 {
		c.PerHostConcurrency = 2
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.TotalBudget <= 0 {
		c.TotalBudget = 60 * time.Second
	}
	if c.MaxClusters <= 0 {
		c.MaxClusters = 5
	}
	return c
}

// Result is what one retrieval run produced.
type Result struct {
	RunID    string                   `json:"runId"`
	Articles []core.NormalizedArticle `json:"articles"`
	Clusters []core.StoryCluster      `json:"clusters"`
	Metrics  core.RetrievalMetrics    `json:"metrics"`
}

// Orchestrator coordinates one retrieval run at a time. It is safe for
// concurrent use; all per-run state lives in a runState value.
type Orchestrator struct {
	cfg        Config
	connectors []connectors.Connector
	extractor  *extractor.Extractor
	store      artifacts.Store
	emitter    emit.Emitter
}

// New creates an Orchestrator. A nil store disables persistence; a nil
// emitter drops events.
func New(cfg Config, conns []connectors.Connector, ex *extractor.Extractor, store artifacts.Store, emitter emit.Emitter) *Orchestrator {
	if store == nil {
		store = artifacts.NopStore{}
	}
	if emitter == nil {
		emitter = emit.NopEmitter{}
	}
	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		connectors: conns,
		extractor:  ex,
		store:      store,
		emitter:    emitter,
	}
}

// runState carries everything mutable for one run. Per-provider counters are
// only touched under mu; accepted/attempted also keep atomics so workers can
// observe stop conditions without the lock.
type runState struct {
	runID     string
	startedAt time.Time
	plan      core.QueryPlan

	mu          sync.Mutex
	perProvider map[core.Provider]*core.ProviderMetrics
	articles    []core.NormalizedArticle
	errors      []core.ExtractionError

	accepted  atomic.Int64
	attempted atomic.Int64

	hostMu   sync.Mutex
	hostSems map[string]*semaphore.Weighted

	stamper *emit.Stamper
}

func (s *runState) metricsFor(p core.Provider) *core.ProviderMetrics {
	if m, ok := s.perProvider[p]; ok {
		return m
	}
	m := &core.ProviderMetrics{}
	s.perProvider[p] = m
	return m
}

// claimed is one round-robin slot handed to the extraction workers.
type claimed struct {
	cand core.Candidate
	host string
}

// Run executes one retrieval pass for the topic. Connector and extraction
// failures surface as metrics; only caller cancellation with nothing
// accepted, or fatal infrastructure errors, return a non-nil error.
func (o *Orchestrator) Run(ctx context.Context, topic string, overrides query.Overrides) (*Result, error) {
	state := &runState{
		runID:       uuid.New().String(),
		startedAt:   time.Now().UTC(),
		plan:        query.Normalize(topic, overrides),
		perProvider: make(map[core.Provider]*core.ProviderMetrics),
		hostSems:    make(map[string]*semaphore.Weighted),
		stamper:     emit.NewStamper(nil),
	}

	// Composite cancellation: caller, total budget deadline, and the
	// acceptance stop all collapse into stopCtx.
	deadlineAt := state.startedAt.Add(o.cfg.TotalBudget)
	runCtx, cancelDeadline := context.WithDeadline(ctx, deadlineAt)
	defer cancelDeadline()
	stopCtx, stop := context.WithCancel(runCtx)
	defer stop()

	o.emit(state, emit.StageRetrieval, emit.StatusStart, "retrieving candidates", map[string]any{
		"topic": topic,
		"query": state.plan.Main,
	})

	results := o.fanOut(stopCtx, state)
	queues := o.aggregate(state, results)
	drawn := o.roundRobin(state, queues)

	o.emit(state, emit.StageRetrieval, emit.StatusProgress, "extracting articles", map[string]any{
		"candidates": len(drawn),
	})

	o.extractAll(stopCtx, stop, state, drawn)

	if err := ctx.Err(); err != nil && state.accepted.Load() == 0 {
		msg := "retrieval cancelled before any article was accepted"
		o.emit(state, emit.StageRetrieval, emit.StatusFailure, msg, nil)
		return nil, fmt.Errorf("%s: %w", msg, err)
	}

	result := o.finalize(state)

	o.emit(state, emit.StageRetrieval, emit.StatusSuccess, "retrieval complete", map[string]any{
		"accepted":             result.Metrics.Accepted,
		"attemptedExtractions": result.Metrics.AttemptedExtractions,
	})
	o.emit(state, emit.StageRanking, emit.StatusStart, "ranking and clustering", nil)
	o.emit(state, emit.StageRanking, emit.StatusSuccess, "ranking complete", map[string]any{
		"articles": len(result.Articles),
		"clusters": len(result.Clusters),
	})

	return result, nil
}

func (o *Orchestrator) emit(state *runState, stage, status, message string, data map[string]any) {
	o.emitter.Emit(state.stamper.Stamp(emit.StageEvent{
		RunID:   state.runID,
		Stage:   stage,
		Status:  status,
		Message: message,
		Data:    data,
	}))
}

// fanOut invokes every connector in parallel and persists raw snapshots
// best-effort. Connector panics and errors become failed results, never run
// failures.
func (o *Orchestrator) fanOut(ctx context.Context, state *runState) []connectors.Result {
	opts := connectors.Options{
		RecencyHours: o.cfg.RecencyHours,
		Tokens:       state.plan.Tokens,
		RawQuery:     state.plan.Main,
		Now:          state.startedAt,
	}

	results := make([]connectors.Result, len(o.connectors))
	var g errgroup.Group
	for i, conn := range o.connectors {
		g.Go(func() error {
			results[i] = o.safeFetch(ctx, conn, state.plan, opts)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.Metrics.Disabled {
			continue
		}
		if err := o.store.SaveRawProviderSnapshot(res.Provider.String(), state.runID, res); err != nil {
			logger.Warn("failed to persist raw provider snapshot", "provider", res.Provider.String(), "error", err.Error())
		}
	}
	return results
}

// safeFetch guards one connector call: a panic or returned error becomes a
// failed result carrying the message.
func (o *Orchestrator) safeFetch(ctx context.Context, conn connectors.Connector, plan core.QueryPlan, opts connectors.Options) (res connectors.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("connector panicked", fmt.Errorf("%v", r), "provider", conn.Provider().String())
			res = connectors.Result{
				Provider:  conn.Provider(),
				FetchedAt: time.Now().UTC(),
				Metrics:   connectors.Metrics{Failed: true, Error: fmt.Sprintf("panic: %v", r)},
			}
		}
	}()

	res, err := conn.Fetch(ctx, plan, opts)
	if err != nil {
		res = connectors.Result{
			Provider:  conn.Provider(),
			FetchedAt: time.Now().UTC(),
			Metrics:   connectors.Metrics{Failed: true, Error: err.Error()},
		}
	}
	return res
}

// aggregate merges connector results into per-provider metrics, deduplicates
// across providers by lowercased canonical URL, and builds the per-provider
// candidate queues sorted by candidate score.
func (o *Orchestrator) aggregate(state *runState, results []connectors.Result) map[core.Provider][]core.Candidate {
	seen := make(map[string]bool)
	queues := make(map[core.Provider][]core.Candidate)

	for _, res := range results {
		m := state.metricsFor(res.Provider)
		// Connectors count raw provider hits; fall back to the surviving
		// items when a connector did not report.
		m.Returned = res.Metrics.Returned
		if m.Returned == 0 {
			m.Returned = len(res.Items)
		}
		m.Screened += res.Metrics.PreFiltered
		m.Disabled = res.Metrics.Disabled
		m.Failed = res.Metrics.Failed
		m.Error = res.Metrics.Error
		m.Query = res.Query

		for _, cand := range res.Items {
			key := strings.ToLower(extractor.Canonicalize(cand.URL))
			if seen[key] {
				m.Deduped++
				continue
			}
			seen[key] = true
			cand.Provider = res.Provider
			queues[res.Provider] = append(queues[res.Provider], cand)
		}
	}

	for provider, queue := range queues {
		sort.SliceStable(queue, func(i, j int) bool {
			return candidateScore(queue[i], state.plan.Tokens) > candidateScore(queue[j], state.plan.Tokens)
		})
		state.metricsFor(provider).Unique = len(queue)
	}
	return queues
}

// candidateScore orders candidates within a provider queue before any
// network fetch happens: query overlap, plus a small length bonus, plus a
// nudge for having any publish date at all.
func candidateScore(cand core.Candidate, queryTokens []string) float64 {
	text := cand.Title + " " + cand.Snippet
	score := tokenOverlap(text, queryTokens)
	score += math.Min(1, float64(len(text))/240) * 0.15
	if cand.PublishedAt != "" {
		score += 0.05
	}
	return score
}

func tokenOverlap(text string, queryTokens []string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	present := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		present[strings.Trim(tok, ".,;:!?\"'()[]")] = true
	}
	matched := 0
	for _, tok := range queryTokens {
		if present[strings.ToLower(tok)] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

// roundRobin draws up to MaxAttempts candidates by rotating through the
// providers in their fixed order, taking the front of each non-empty queue
// per pass. Given the same queues the draw order is deterministic.
func (o *Orchestrator) roundRobin(state *runState, queues map[core.Provider][]core.Candidate) []claimed {
	var drawn []claimed
	for len(drawn) < o.cfg.MaxAttempts {
		progressed := false
		for _, provider := range core.AllProviders {
			if len(drawn) >= o.cfg.MaxAttempts {
				break
			}
			queue := queues[provider]
			if len(queue) == 0 {
				continue
			}
			cand := queue[0]
			queues[provider] = queue[1:]
			drawn = append(drawn, claimed{cand: cand, host: candidateHost(cand.URL)})
			state.metricsFor(provider).Queued++
			progressed = true
		}
		if !progressed {
			break
		}
	}

	for _, m := range state.perProvider {
		m.Skipped = m.Unique - m.Queued
	}
	return drawn
}

func candidateHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func (s *runState) hostSem(host string, capacity int) *semaphore.Weighted {
	s.hostMu.Lock()
	defer s.hostMu.Unlock()
	sem, ok := s.hostSems[host]
	if !ok {
		sem = semaphore.NewWeighted(int64(capacity))
		s.hostSems[host] = sem
	}
	return sem
}

// extractAll runs the bounded extraction pool over the drawn candidates.
// Workers claim candidate indexes atomically, hold one global permit and one
// per-host permit per fetch, and exit as soon as the composite stop fires.
func (o *Orchestrator) extractAll(ctx context.Context, stop context.CancelFunc, state *runState, drawn []claimed) {
	globalSem := semaphore.NewWeighted(int64(o.cfg.GlobalConcurrency))
	filterOpts := filter.Options{
		RecencyHours:   o.cfg.RecencyHours,
		MinWordCount:   o.cfg.MinWordCount,
		MinUniqueWords: o.cfg.MinUniqueWords,
		MinRelevance:   o.cfg.MinRelevance,
		BannedSources:  o.cfg.BannedSources,
		Now:            state.startedAt,
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	for range o.cfg.GlobalConcurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil || state.accepted.Load() >= int64(o.cfg.MinAccepted) {
					return
				}
				idx := int(next.Add(1)) - 1
				if idx >= len(drawn) {
					return
				}
				o.extractOne(ctx, stop, state, globalSem, filterOpts, drawn[idx])
			}
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) extractOne(ctx context.Context, stop context.CancelFunc, state *runState, globalSem *semaphore.Weighted, filterOpts filter.Options, c claimed) {
	if err := globalSem.Acquire(ctx, 1); err != nil {
		return
	}
	defer globalSem.Release(1)

	hostSem := state.hostSem(c.host, o.cfg.PerHostConcurrency)
	if err := hostSem.Acquire(ctx, 1); err != nil {
		return
	}
	defer hostSem.Release(1)

	// Re-check after waiting on permits.
	if ctx.Err() != nil || state.accepted.Load() >= int64(o.cfg.MinAccepted) {
		return
	}

	provider := c.cand.Provider
	state.attempted.Add(1)
	state.mu.Lock()
	state.metricsFor(provider).ExtractionAttempts++
	state.mu.Unlock()

	article, _, err := o.extractor.Extract(ctx, c.cand, state.plan.Tokens)
	if err != nil {
		// A fetch cut short by the acceptance stop or the budget deadline
		// is not a provider failure.
		if ctx.Err() != nil {
			return
		}
		extractionErr := core.ExtractionError{URL: c.cand.URL, Error: err.Error()}
		state.mu.Lock()
		m := state.metricsFor(provider)
		m.ExtractionErrors = append(m.ExtractionErrors, extractionErr)
		state.errors = append(state.errors, extractionErr)
		state.mu.Unlock()
		return
	}

	verdict := filter.Evaluate(article, filterOpts)

	state.mu.Lock()
	m := state.metricsFor(provider)
	for _, warning := range verdict.Warnings {
		// Web search result metadata is known-unreliable about dates, so
		// its articles are exempt from the missing-date count.
		if warning == filter.WarningMissingPublishedAt && provider != core.ProviderWebSearch {
			m.MissingPublishedAt++
		}
	}
	if !verdict.Accept {
		m.PreFiltered++
		if m.RejectionReasons == nil {
			m.RejectionReasons = make(map[string]int)
		}
		for _, reason := range verdict.Reasons {
			m.RejectionReasons[reason]++
		}
		state.mu.Unlock()
		return
	}
	m.Accepted++
	state.articles = append(state.articles, *article)
	state.mu.Unlock()

	if state.accepted.Add(1) >= int64(o.cfg.MinAccepted) {
		stop()
	}
}

// finalize dedupes, ranks, clusters, persists, and assembles metrics.
// Similarity dedupe stays off by default so clustering is the one place
// near-duplicates get collapsed.
func (o *Orchestrator) finalize(state *runState) *Result {
	state.mu.Lock()
	accepted := make([]core.NormalizedArticle, len(state.articles))
	copy(accepted, state.articles)
	state.mu.Unlock()

	deduped, removed := rank.DedupeByCanonicalURL(accepted)
	if o.cfg.SimilarityDedupe {
		deduped = rank.SimilarityDedupe(deduped, 0)
	}

	now := state.startedAt
	sort.SliceStable(deduped, func(i, j int) bool {
		return rank.Score(deduped[i], now, o.cfg.RecencyHours) > rank.Score(deduped[j], now, o.cfg.RecencyHours)
	})
	if len(deduped) > o.cfg.MaxCandidates {
		deduped = deduped[:o.cfg.MaxCandidates]
	}

	clusters := rank.Cluster(deduped, now, o.cfg.RecencyHours, rank.ClusterOptions{
		ClusterThreshold: o.cfg.ClusterThreshold,
		AttachThreshold:  o.cfg.AttachThreshold,
		MaxClusters:      o.cfg.MaxClusters,
	})

	for _, article := range deduped {
		if err := o.store.SaveNormalizedArticle(article.ID, article); err != nil {
			logger.Warn("failed to persist article", "articleId", article.ID, "error", err.Error())
		}
	}
	if err := o.store.SaveRunArtifact(state.runID, "clusters", clusters); err != nil {
		logger.Warn("failed to persist clusters", "runId", state.runID, "error", err.Error())
	}

	metrics := o.buildMetrics(state, deduped, removed)
	if err := o.store.SaveRunArtifact(state.runID, "metrics", metrics); err != nil {
		logger.Warn("failed to persist metrics", "runId", state.runID, "error", err.Error())
	}

	return &Result{
		RunID:    state.runID,
		Articles: deduped,
		Clusters: clusters,
		Metrics:  metrics,
	}
}

func (o *Orchestrator) buildMetrics(state *runState, final []core.NormalizedArticle, removed map[core.Provider]int) core.RetrievalMetrics {
	state.mu.Lock()
	defer state.mu.Unlock()

	metrics := core.RetrievalMetrics{
		PerProvider:      state.perProvider,
		ExtractionErrors: state.errors,
	}

	for provider, count := range removed {
		state.metricsFor(provider).Deduped += count
		metrics.DuplicatesRemoved += count
	}

	// The run-level pre-filter aggregate counts cross-provider URL dedupe
	// plus post-extraction rejections; connector-stage screening stays in
	// the per-provider screened counters.
	for _, m := range state.perProvider {
		metrics.CandidateCount += m.Returned
		metrics.PreFiltered += m.Deduped + m.PreFiltered
		metrics.AttemptedExtractions += m.ExtractionAttempts
		metrics.Accepted += m.Accepted
	}

	var newest, oldest time.Time
	for _, article := range final {
		published := core.ParseTime(article.PublishedAt)
		if published.IsZero() {
			continue
		}
		if newest.IsZero() || published.After(newest) {
			newest = published
		}
		if oldest.IsZero() || published.Before(oldest) {
			oldest = published
		}
	}
	if !newest.IsZero() {
		metrics.NewestArticleHours = roundHours(state.startedAt.Sub(newest))
		metrics.OldestArticleHours = roundHours(state.startedAt.Sub(oldest))
	}
	return metrics
}

func roundHours(d time.Duration) float64 {
	return math.Round(d.Hours()*100) / 100
}
