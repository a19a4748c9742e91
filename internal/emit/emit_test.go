package emit

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWriteEventFraming(t *testing.T) {
	var buf bytes.Buffer
	ev := StageEvent{RunID: "run-1", Stage: StageRetrieval, Status: StatusStart, Message: "starting", TS: 123}

	if err := WriteEvent(&buf, ev); err != nil {
		t.Fatalf("WriteEvent failed: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "event: stage-event\ndata: ") {
		t.Errorf("Expected SSE prefix, got %q", out)
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Errorf("Expected blank-line delimiter, got %q", out)
	}

	payload := strings.TrimSuffix(strings.TrimPrefix(out, "event: stage-event\ndata: "), "\n\n")
	var decoded StageEvent
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		t.Fatalf("Expected valid JSON payload: %v", err)
	}
	if decoded.RunID != "run-1" || decoded.Stage != StageRetrieval || decoded.TS != 123 {
		t.Errorf("Expected round-tripped event, got %+v", decoded)
	}
}

func TestWriteHeartbeat(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHeartbeat(&buf); err != nil {
		t.Fatalf("WriteHeartbeat failed: %v", err)
	}
	if buf.String() != ": heartbeat\n\n" {
		t.Errorf("Expected heartbeat comment, got %q", buf.String())
	}
}

func TestWriteFatal(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFatal(&buf, errors.New("store exploded")); err != nil {
		t.Fatalf("WriteFatal failed: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "event: fatal\ndata: ") {
		t.Errorf("Expected fatal framing, got %q", out)
	}
	if !strings.Contains(out, `"error":"store exploded"`) {
		t.Errorf("Expected error payload, got %q", out)
	}
}

func TestStamperMonotonic(t *testing.T) {
	times := []time.Time{
		time.UnixMilli(1000),
		time.UnixMilli(2000),
		time.UnixMilli(1500), // clock stepped backwards
		time.UnixMilli(3000),
	}
	i := 0
	stamper := NewStamper(func() time.Time {
		t := times[i]
		i++
		return t
	})

	var last int64
	for range times {
		ev := stamper.Stamp(StageEvent{})
		if ev.TS < last {
			t.Errorf("Expected non-decreasing timestamps, got %d after %d", ev.TS, last)
		}
		last = ev.TS
	}
}

func TestRecorderCollectsEvents(t *testing.T) {
	var rec Recorder
	rec.Emit(StageEvent{Stage: StageRetrieval, Status: StatusStart})
	rec.Emit(StageEvent{Stage: StageRetrieval, Status: StatusSuccess})

	events := rec.Events()
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Status != StatusStart || events[1].Status != StatusSuccess {
		t.Errorf("Expected recorded order preserved, got %+v", events)
	}
}
