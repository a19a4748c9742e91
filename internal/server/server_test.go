package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"storymill/internal/config"
	"storymill/internal/extractor"
)

// offlineConfig disables every connector so a research run completes without
// touching the network.
func offlineConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.RecencyHours = 24
	cfg.Retrieval.MinAccepted = 1
	cfg.Retrieval.TotalBudgetMs = 5000
	cfg.Server.Addr = ":0"
	return cfg
}

func newTestServer() *Server {
	return New(offlineConfig(), extractor.NopCache{}, nil)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != `{"status":"ok"}` {
		t.Errorf("Expected health payload, got %q", body)
	}
}

func TestResearchRequiresTopic(t *testing.T) {
	srv := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/research", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without topic, got %d", rec.Code)
	}
}

func TestResearchRejectsBadRecency(t *testing.T) {
	srv := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/research?topic=chips&recencyHours=zero", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad recencyHours, got %d", rec.Code)
	}
}

func TestResearchStreamsStageEvents(t *testing.T) {
	srv := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/research?topic=chip+export+controls", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected SSE content type, got %q", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"event: stage-event",
		`"stage":"retrieval"`,
		`"status":"start"`,
		`"status":"success"`,
		`"stage":"ranking"`,
		`"stage":"synthesis"`,
		`"skipped":true`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected stream to contain %q", want)
		}
	}
	if strings.Contains(body, "event: fatal") {
		t.Errorf("Expected no fatal event, got %q", body)
	}
}

func TestResearchAcceptsJSONBody(t *testing.T) {
	srv := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/research", strings.NewReader(`{"topic":"chip export controls","recencyHours":12}`))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"stage":"retrieval"`) {
		t.Error("Expected retrieval events in stream")
	}
}
