package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"storymill/internal/emit"
	"storymill/internal/pipeline"
	"storymill/internal/query"
)

// Per-request credential override headers. Values override the configured
// connector credentials for this run only and are never persisted.
const (
	headerWebSearchKey     = "X-Web-Search-Key"
	headerWebSearchCx      = "X-Web-Search-Cx"
	headerNewsAPIKey       = "X-News-Api-Key"
	headerEventRegistryKey = "X-Event-Registry-Key"
)

type researchRequest struct {
	Topic        string `json:"topic"`
	RecencyHours int    `json:"recencyHours"`
}

// chanEmitter forwards stage events to the streaming loop.
type chanEmitter struct {
	ch chan emit.StageEvent
}

func (c chanEmitter) Emit(ev emit.StageEvent) { c.ch <- ev }

// handleResearch runs one retrieval pass and streams its stage events as
// Server-Sent Events. Heartbeat comments keep proxies from killing the
// connection while extraction is in flight.
func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	req, err := parseResearchRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	overrides := pipeline.RunOverrides{
		RecencyHours:     req.RecencyHours,
		WebSearchKey:     r.Header.Get(headerWebSearchKey),
		WebSearchCx:      r.Header.Get(headerWebSearchCx),
		NewsAPIKey:       r.Header.Get(headerNewsAPIKey),
		EventRegistryKey: r.Header.Get(headerEventRegistryKey),
	}

	events := make(chan emit.StageEvent, 64)
	orch, err := pipeline.Build(s.config, overrides, s.cache, chanEmitter{ch: events})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	type runOutcome struct {
		result *pipeline.Result
		err    error
	}
	done := make(chan runOutcome, 1)
	go func() {
		result, runErr := orch.Run(r.Context(), req.Topic, query.Overrides{})
		if runErr == nil && result != nil {
			s.stages.RunStages(r.Context(), result, chanEmitter{ch: events})
		}
		close(events)
		done <- runOutcome{result: result, err: runErr}
	}()

	heartbeatInterval := time.Duration(s.config.Server.HeartbeatIntervalMs) * time.Millisecond
	if heartbeatInterval <= 0 {
		heartbeatInterval = 15 * time.Second
	}
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				outcome := <-done
				if outcome.err != nil {
					s.log.Error("research run failed", "error", outcome.err.Error())
					_ = emit.WriteFatal(w, outcome.err)
				}
				return
			}
			if err := emit.WriteEvent(w, ev); err != nil {
				s.log.Warn("client disconnected mid-stream", "error", err.Error())
				return
			}
		case <-heartbeat.C:
			if err := emit.WriteHeartbeat(w); err != nil {
				return
			}
		case <-r.Context().Done():
			// Drain so the run goroutine can finish emitting.
			for range events {
			}
			<-done
			return
		}
	}
}

func parseResearchRequest(r *http.Request) (researchRequest, error) {
	var req researchRequest

	if r.Method == http.MethodPost && r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid request body: %w", err)
		}
	}

	if topic := r.URL.Query().Get("topic"); topic != "" {
		req.Topic = topic
	}
	if raw := r.URL.Query().Get("recencyHours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			return req, fmt.Errorf("invalid recencyHours %q", raw)
		}
		req.RecencyHours = hours
	}

	if req.Topic == "" {
		return req, fmt.Errorf("topic is required")
	}
	return req, nil
}
