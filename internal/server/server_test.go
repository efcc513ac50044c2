package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/valpere/turjuman/internal/domain"
	"github.com/valpere/turjuman/internal/engine"
	"github.com/valpere/turjuman/internal/events"
	"github.com/valpere/turjuman/internal/provider"
	"github.com/valpere/turjuman/internal/store"
	"github.com/valpere/turjuman/internal/translate"
)

type stubGenerator struct{}

func (stubGenerator) Name() string { return "stub" }

func (stubGenerator) Generate(ctx context.Context, prompt string, p provider.Params) (*provider.Result, error) {
	return &provider.Result{Text: "translated", Usage: provider.Usage{TotalTokens: 2}}, nil
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	eng := engine.New(engine.Options{
		Store:      db,
		Hub:        events.NewHub(),
		Generators: func(domain.Config) (provider.Generator, error) { return stubGenerator{}, nil },
		Pool:       translate.Config{RetryDelay: time.Millisecond},
	})
	srv := httptest.NewServer(New(eng, nil))
	t.Cleanup(srv.Close)
	return srv
}

func submitJob(t *testing.T, srv *httptest.Server, payload map[string]any) map[string]any {
	t.Helper()
	body, _ := json.Marshal(payload)
	resp, err := http.Post(srv.URL+"/api/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/jobs failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var job map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return job
}

func defaultPayload() map[string]any {
	return map[string]any{
		"original_content": "A paragraph to translate.",
		"config": map[string]any{
			"source_lang":      "en",
			"target_lang":      "uk",
			"translation_mode": "quick",
		},
	}
}

func waitCompleted(t *testing.T, srv *httptest.Server, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/api/jobs/" + id)
		if err != nil {
			t.Fatalf("GET job failed: %v", err)
		}
		var job map[string]any
		json.NewDecoder(resp.Body).Decode(&job)
		resp.Body.Close()
		if s, _ := job["status"].(string); s == "completed" || s == "failed" {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not finish")
	return nil
}

func TestSubmitAndGetJob(t *testing.T) {
	srv := testServer(t)

	job := submitJob(t, srv, defaultPayload())
	id, _ := job["job_id"].(string)
	if id == "" {
		t.Fatalf("expected job_id in response, got %v", job)
	}
	if job["status"] != "pending" {
		t.Errorf("expected pending on accept, got %v", job["status"])
	}

	final := waitCompleted(t, srv, id)
	if final["status"] != "completed" {
		t.Fatalf("expected completed, got %v (%v)", final["status"], final["error_info"])
	}
	if final["final_document"] == nil {
		t.Error("expected final document in snapshot")
	}
	if _, ok := final["original_content"]; ok {
		t.Error("original content must not appear in API responses")
	}
}

func TestSubmit_EmptyContent(t *testing.T) {
	srv := testServer(t)

	payload := defaultPayload()
	payload["original_content"] = "   "
	body, _ := json.Marshal(payload)
	resp, err := http.Post(srv.URL+"/api/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSubmit_InvalidJSON(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Post(srv.URL+"/api/jobs", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/api/jobs/nope")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListJobs(t *testing.T) {
	srv := testServer(t)

	job := submitJob(t, srv, defaultPayload())
	waitCompleted(t, srv, job["job_id"].(string))

	resp, err := http.Get(srv.URL + "/api/jobs")
	if err != nil {
		t.Fatalf("GET /api/jobs failed: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Jobs []map[string]any `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(out.Jobs) != 1 {
		t.Errorf("expected 1 job, got %d", len(out.Jobs))
	}
}

func TestDeleteJob(t *testing.T) {
	srv := testServer(t)

	job := submitJob(t, srv, defaultPayload())
	id := job["job_id"].(string)
	waitCompleted(t, srv, id)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/jobs/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}

	getResp, err := http.Get(srv.URL + "/api/jobs/" + id)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", getResp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestStream_SnapshotThenEnd(t *testing.T) {
	srv := testServer(t)

	job := submitJob(t, srv, defaultPayload())
	id := job["job_id"].(string)
	waitCompleted(t, srv, id)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/jobs/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var sawSnapshot, sawEnd bool
	for !sawEnd {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed before end marker: %v", err)
		}
		switch msg["event"] {
		case "snapshot":
			sawSnapshot = true
			jobMsg, _ := msg["job"].(map[string]any)
			if jobMsg["status"] != "completed" {
				t.Errorf("expected completed snapshot, got %v", jobMsg["status"])
			}
		case "end":
			sawEnd = true
		}
	}
	if !sawSnapshot {
		t.Error("expected snapshot before end marker")
	}
}

func TestStream_DuringRunEndsWithTerminalState(t *testing.T) {
	srv := testServer(t)

	// Dial while the job is (possibly still) running. Whether the job
	// finishes before or after the subscription attaches, the stream must
	// deliver the terminal state and the end marker.
	job := submitJob(t, srv, defaultPayload())
	id := job["job_id"].(string)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/jobs/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var lastStatus string
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("stream broke without end marker: %v", err)
		}
		if msg["event"] == "end" {
			break
		}
		switch msg["event"] {
		case "snapshot":
			jobMsg, _ := msg["job"].(map[string]any)
			lastStatus, _ = jobMsg["status"].(string)
		case "update":
			upd, _ := msg["update"].(map[string]any)
			lastStatus, _ = upd["status"].(string)
		}
	}
	if lastStatus != "completed" {
		t.Errorf("expected terminal state before end marker, got %q", lastStatus)
	}
}

func TestStream_UnknownJob(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/api/jobs/ghost/ws")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
