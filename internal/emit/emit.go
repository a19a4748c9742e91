// Package emit defines the stage-event stream the pipeline publishes and the
// Server-Sent Events framing used to carry it over HTTP.
package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Stages.
const (
	StageRetrieval        = "retrieval"
	StageRanking          = "ranking"
	StageOutline          = "outline"
	StageTargetedResearch = "targetedResearch"
	StageSynthesis        = "synthesis"
	StageImagePrompt      = "imagePrompt"
)

// Statuses.
const (
	StatusStart    = "start"
	StatusProgress = "progress"
	StatusSuccess  = "success"
	StatusFailure  = "failure"
)

// StageEvent is one entry in a run's event stream.
type StageEvent struct {
	RunID   string         `json:"runId"`
	Stage   string         `json:"stage"`
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	TS      int64          `json:"ts"`
}

// Emitter receives stage events as the pipeline progresses.
type Emitter interface {
	Emit(ev StageEvent)
}

// NopEmitter drops every event.
type NopEmitter struct{}

func (NopEmitter) Emit(StageEvent) {}

// Clock abstracts time for testing monotonic timestamps.
type Clock func() time.Time

// Stamper assigns monotonically non-decreasing millisecond timestamps to
// events within one run, even when the wall clock steps backwards.
type Stamper struct {
	mu    sync.Mutex
	clock Clock
	last  int64
}

// NewStamper creates a Stamper; a nil clock uses the wall clock.
func NewStamper(clock Clock) *Stamper {
	if clock == nil {
		clock = time.Now
	}
	return &Stamper{clock: clock}
}

// Stamp fills in ev.TS and returns the event.
func (s *Stamper) Stamp(ev StageEvent) StageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.clock().UnixMilli()
	if ts < s.last {
		ts = s.last
	}
	s.last = ts
	ev.TS = ts
	return ev
}

// Recorder is an in-memory Emitter for tests.
type Recorder struct {
	mu     sync.Mutex
	events []StageEvent
}

func (r *Recorder) Emit(ev StageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything emitted so far.
func (r *Recorder) Events() []StageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StageEvent, len(r.events))
	copy(out, r.events)
	return out
}

// WriteEvent writes one stage event in SSE framing and flushes.
func WriteEvent(w io.Writer, ev StageEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal stage event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: stage-event\ndata: %s\n\n", data); err != nil {
		return err
	}
	flush(w)
	return nil
}

// WriteHeartbeat writes an SSE comment line that keeps the connection alive.
func WriteHeartbeat(w io.Writer) error {
	if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
		return err
	}
	flush(w)
	return nil
}

// WriteFatal writes the terminal fatal event. The caller closes the stream
// afterwards.
func WriteFatal(w io.Writer, err error) error {
	payload, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return fmt.Errorf("failed to marshal fatal event: %w", merr)
	}
	if _, werr := fmt.Fprintf(w, "event: fatal\ndata: %s\n\n", payload); werr != nil {
		return werr
	}
	flush(w)
	return nil
}

func flush(w io.Writer) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
