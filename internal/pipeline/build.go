package pipeline

import (
	"fmt"
	"time"

	"storymill/internal/artifacts"
	"storymill/internal/config"
	"storymill/internal/connectors"
	"storymill/internal/emit"
	"storymill/internal/extractor"
)

// RunOverrides carries per-run settings supplied by the caller, typically
// from request headers and query parameters. Zero fields fall back to
// configuration.
type RunOverrides struct {
	RecencyHours     int
	WebSearchKey     string
	WebSearchCx      string
	NewsAPIKey       string
	EventRegistryKey string
}

// Build assembles an Orchestrator from loaded configuration. The extraction
// cache is shared across runs and passed in by the caller; connectors and
// the orchestrator itself are cheap per-run constructions.
func Build(cfg *config.Config, overrides RunOverrides, cache extractor.Cache, emitter emit.Emitter) (*Orchestrator, error) {
	recencyHours := cfg.App.RecencyHours
	if overrides.RecencyHours > 0 {
		recencyHours = overrides.RecencyHours
	}
	webSearchKey := firstNonEmpty(overrides.WebSearchKey, cfg.Connectors.WebSearch.APIKey)
	webSearchCx := firstNonEmpty(overrides.WebSearchCx, cfg.Connectors.WebSearch.SearchEngineID)
	newsAPIKey := firstNonEmpty(overrides.NewsAPIKey, cfg.Connectors.NewsAPI.APIKey)
	eventRegistryKey := firstNonEmpty(overrides.EventRegistryKey, cfg.Connectors.EventRegistry.APIKey)

	conns := []connectors.Connector{
		connectors.NewWebSearch(connectors.WebSearchConfig{
			APIKey:         webSearchKey,
			SearchEngineID: webSearchCx,
			Enabled:        cfg.Connectors.WebSearch.Enabled,
			NewsOnly:       cfg.Connectors.WebSearch.NewsOnly,
			AllowedHosts:   cfg.Connectors.WebSearch.AllowedHosts,
		}, nil),
		connectors.NewNewsRSS(connectors.NewsRSSConfig{
			Enabled:    cfg.Connectors.WebNewsRSS.Enabled,
			HL:         cfg.Connectors.WebNewsRSS.HL,
			GL:         cfg.Connectors.WebNewsRSS.GL,
			CEID:       cfg.Connectors.WebNewsRSS.CEID,
			MaxResults: cfg.Connectors.WebNewsRSS.MaxResults,
		}, nil),
		connectors.NewNewsAPI(connectors.NewsAPIConfig{
			APIKey:   newsAPIKey,
			PageSize: cfg.Connectors.NewsAPI.PageSize,
			Enabled:  cfg.Connectors.NewsAPI.Enabled,
		}, nil),
		connectors.NewEventRegistry(connectors.EventRegistryConfig{
			APIKey:        eventRegistryKey,
			LookbackHours: cfg.Connectors.EventRegistry.LookbackHours,
			MaxEvents:     cfg.Connectors.EventRegistry.MaxEvents,
			Enabled:       cfg.Connectors.EventRegistry.Enabled,
		}, nil),
	}

	ex := extractor.New(extractor.Options{
		UserAgent:    cfg.Retrieval.UserAgent,
		FetchTimeout: time.Duration(cfg.Retrieval.FetchTimeoutMs) * time.Millisecond,
	}, nil, cache)

	var store artifacts.Store = artifacts.NopStore{}
	if cfg.Persistence.Mode == "fs" {
		fsStore, err := artifacts.NewFSStore(cfg.Persistence.RootDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create artifact store: %w", err)
		}
		if err := fsStore.EnsureLayout(); err != nil {
			return nil, fmt.Errorf("failed to prepare artifact layout: %w", err)
		}
		store = fsStore
	}

	orchCfg := Config{
		RecencyHours:       recencyHours,
		MinAccepted:        cfg.Retrieval.MinAccepted,
		MaxAttempts:        cfg.Retrieval.MaxAttempts,
		MaxCandidates:      cfg.Retrieval.MaxCandidates,
		GlobalConcurrency:  cfg.Retrieval.GlobalConcurrency,
		PerHostConcurrency: cfg.Retrieval.PerHostConcurrency,
		FetchTimeout:       time.Duration(cfg.Retrieval.FetchTimeoutMs) * time.Millisecond,
		TotalBudget:        time.Duration(cfg.Retrieval.TotalBudgetMs) * time.Millisecond,
		MinWordCount:       cfg.Retrieval.MinWordCount,
		MinUniqueWords:     cfg.Retrieval.MinUniqueWords,
		MinRelevance:       cfg.Retrieval.MinRelevance,
		ClusterThreshold:   cfg.Retrieval.ClusterThreshold,
		AttachThreshold:    cfg.Retrieval.AttachThreshold,
		MaxClusters:        cfg.Retrieval.MaxClusters,
		SimilarityDedupe:   cfg.Retrieval.SimilarityDedupe,
	}

	return New(orchCfg, conns, ex, store, emitter), nil
}

// NewSharedCache creates the process-wide extraction cache from config.
func NewSharedCache(cfg *config.Config) extractor.Cache {
	if cfg.Retrieval.CacheTTLMs <= 0 {
		return extractor.NopCache{}
	}
	return extractor.NewMemoryCache(time.Duration(cfg.Retrieval.CacheTTLMs)*time.Millisecond, 0)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
