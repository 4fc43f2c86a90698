package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/inkwellhq/inkwell/internal/broadcast"
	"github.com/inkwellhq/inkwell/internal/checkpoint"
	"github.com/inkwellhq/inkwell/internal/config"
	"github.com/inkwellhq/inkwell/internal/db"
	"github.com/inkwellhq/inkwell/internal/engine"
	"github.com/inkwellhq/inkwell/internal/llm"
	"github.com/inkwellhq/inkwell/internal/quota"
	"github.com/inkwellhq/inkwell/internal/run"
	"github.com/inkwellhq/inkwell/internal/stage"
)

// cannedProvider answers each agent role with a fixed parseable response.
type cannedProvider struct{}

func (cannedProvider) Name() string { return "canned" }

func (cannedProvider) Generate(ctx context.Context, p llm.Prompt) (*llm.Result, error) {
	var text string
	switch {
	case strings.Contains(p.System, "market research"):
		text = "INTENT: informational\nKEYWORDS:\n- ai retail\nTRENDS:\n- self checkout"
	case strings.Contains(p.System, "brand voice"):
		text = "VOICE: direct\nGUIDELINES:\n- short sentences"
	case strings.Contains(p.System, "content architect"):
		text = "TITLE: AI in Retail\nWhy now :: the forces at work\nWhat to do"
	case strings.Contains(p.System, "content writer"):
		text = "The retail floor is changing."
	case strings.Contains(p.System, "content editor"):
		text = "SCORE: 9\nSolid draft."
	case strings.Contains(p.System, "SEO editor"):
		text = "META_TITLE: AI in Retail\nSLUG: ai-in-retail\n---\nOptimized body."
	case strings.Contains(p.System, "originality reviewer"):
		text = "ORIGINALITY: 9\n---\nOriginal body."
	case strings.Contains(p.System, "managing editor"):
		text = "SUMMARY: ready\n---\nFinal body."
	default:
		return nil, fmt.Errorf("unexpected role: %s", p.System)
	}
	return &llm.Result{Text: text, Tokens: 100, Provider: "canned"}, nil
}

type testEnv struct {
	srv      *httptest.Server
	engine   *engine.Engine
	sessions *checkpoint.Store
}

func newTestServer(t *testing.T, quotaCfg config.Quota) *testEnv {
	t.Helper()
	base := t.TempDir()

	d, err := db.Open(filepath.Join(base, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	runs := run.NewStore(filepath.Join(base, "runs"))
	sessions := checkpoint.NewStore(filepath.Join(base, "sessions"))
	bc := broadcast.New(d)
	router := llm.NewRouter(llm.ModeCloud, cannedProvider{}, nil)
	eng := engine.New(runs, sessions, stage.Pipeline(router), bc,
		quota.NewDBChecker(d, quotaCfg), nil, engine.Options{StageTimeout: 30 * time.Second})
	ctrl := checkpoint.NewController(sessions, eng, 24*time.Hour)

	srv := httptest.NewServer(NewServer(eng, ctrl, bc, "").Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, engine: eng, sessions: sessions}
}

func doJSON(t *testing.T, method, url string, body interface{}, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out.Bytes()
}

func authHeaders() map[string]string {
	return map[string]string{"X-User-ID": "user-1", "X-Org-ID": "org-1"}
}

func startRun(t *testing.T, env *testEnv, checkpointMode bool) run.Run {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, env.srv.URL+"/api/runs", map[string]interface{}{
		"params":          run.Params{Topic: "AI in retail", ContentType: "blog"},
		"checkpoint_mode": checkpointMode,
	}, authHeaders())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start run: status %d: %s", resp.StatusCode, body)
	}
	var r run.Run
	if err := json.Unmarshal(body, &r); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	return r
}

func waitForStatus(t *testing.T, env *testEnv, runID, want string) run.Run {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, body := doJSON(t, http.MethodGet, env.srv.URL+"/api/runs/"+runID, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status: %d: %s", resp.StatusCode, body)
		}
		var r run.Run
		if err := json.Unmarshal(body, &r); err != nil {
			t.Fatalf("decode run: %v", err)
		}
		if r.Status == want {
			return r
		}
		if r.Terminal() || time.Now().After(deadline) {
			t.Fatalf("run %s is %s, want %s", runID, r.Status, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestFullAutomaticRunOverHTTP(t *testing.T) {
	env := newTestServer(t, config.Quota{})
	r := startRun(t, env, false)

	final := waitForStatus(t, env, r.ID, run.StatusCompleted)
	if len(final.Stages) != 7 {
		t.Errorf("Stages = %d, want 7", len(final.Stages))
	}
	var review run.ReviewPayload
	if err := final.StageAt(6).Payload.Decode(run.KindReview, &review); err != nil {
		t.Fatalf("Decode final payload: %v", err)
	}
	if review.Content != "Final body." {
		t.Errorf("final content = %q", review.Content)
	}
}

func TestStartRunRejectsMissingIdentity(t *testing.T) {
	env := newTestServer(t, config.Quota{})

	resp, _ := doJSON(t, http.MethodPost, env.srv.URL+"/api/runs", map[string]interface{}{
		"params": run.Params{Topic: "x", ContentType: "blog"},
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without identity headers", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, env.srv.URL+"/api/runs", map[string]interface{}{
		"params": run.Params{Topic: "x", ContentType: "blog"},
	}, map[string]string{"X-User-ID": "user-1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without org header", resp.StatusCode)
	}
}

func TestQuotaExceededIsPaymentRequired(t *testing.T) {
	env := newTestServer(t, config.Quota{DefaultMonthlyRuns: 1})
	startRun(t, env, false)

	resp, body := doJSON(t, http.MethodPost, env.srv.URL+"/api/runs", map[string]interface{}{
		"params": run.Params{Topic: "second", ContentType: "blog"},
	}, authHeaders())
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402: %s", resp.StatusCode, body)
	}
}

func TestUnknownRunIsNotFound(t *testing.T) {
	env := newTestServer(t, config.Quota{})
	resp, _ := doJSON(t, http.MethodGet, env.srv.URL+"/api/runs/nope", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelRun(t *testing.T) {
	env := newTestServer(t, config.Quota{})
	r := startRun(t, env, true)
	waitForStatus(t, env, r.ID, run.StatusPaused)

	resp, body := doJSON(t, http.MethodPost, env.srv.URL+"/api/runs/"+r.ID+"/cancel", nil, authHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: %d: %s", resp.StatusCode, body)
	}
	var got run.Run
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != run.StatusCancelled {
		t.Errorf("Status = %q, want cancelled", got.Status)
	}
}

func activeSession(t *testing.T, env *testEnv, runID string) *checkpoint.Session {
	t.Helper()
	sess, err := env.sessions.ActiveForRun(runID)
	if err != nil || sess == nil {
		t.Fatalf("ActiveForRun = %v, %v; want a session", sess, err)
	}
	return sess
}

func TestCheckpointSessionOverHTTP(t *testing.T) {
	env := newTestServer(t, config.Quota{})
	r := startRun(t, env, true)
	waitForStatus(t, env, r.ID, run.StatusPaused)
	sess := activeSession(t, env, r.ID)

	// Inspect the paused stage.
	resp, body := doJSON(t, http.MethodGet, env.srv.URL+"/api/sessions/"+sess.ID, nil, authHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session status: %d: %s", resp.StatusCode, body)
	}
	var st checkpoint.Status
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.StageResult == nil || st.StageResult.Ordinal != 0 {
		t.Errorf("StageResult = %+v, want stage 0 output", st.StageResult)
	}

	// Another user is rejected.
	resp, _ = doJSON(t, http.MethodGet, env.srv.URL+"/api/sessions/"+sess.ID, nil,
		map[string]string{"X-User-ID": "intruder"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("other user status = %d, want 403", resp.StatusCode)
	}

	// Approve advances to the next stage pause.
	resp, body = doJSON(t, http.MethodPost, env.srv.URL+"/api/sessions/"+sess.ID+"/actions",
		map[string]string{"action": "approve"}, authHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d: %s", resp.StatusCode, body)
	}
	got := waitForStatus(t, env, r.ID, run.StatusPaused)
	if got.CurrentStage != 1 {
		t.Errorf("CurrentStage = %d, want 1 after approval", got.CurrentStage)
	}

	// Unknown actions are rejected.
	resp, _ = doJSON(t, http.MethodPost, env.srv.URL+"/api/sessions/"+sess.ID+"/actions",
		map[string]string{"action": "merge"}, authHeaders())
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown action = %d, want 400", resp.StatusCode)
	}
}

func TestExpiredSessionIsGone(t *testing.T) {
	env := newTestServer(t, config.Quota{})
	r := startRun(t, env, true)
	waitForStatus(t, env, r.ID, run.StatusPaused)
	sess := activeSession(t, env, r.ID)

	old := time.Now().UTC().Add(-25 * time.Hour).Format(time.RFC3339)
	if _, err := env.sessions.Update(sess.ID, func(s *checkpoint.Session) {
		s.LastActivity = old
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	resp, _ := doJSON(t, http.MethodPost, env.srv.URL+"/api/sessions/"+sess.ID+"/actions",
		map[string]string{"action": "approve"}, authHeaders())
	if resp.StatusCode != http.StatusGone {
		t.Errorf("expired approve = %d, want 410", resp.StatusCode)
	}
}

// sseEvents reads SSE frames until an event of kind stopAt arrives or the
// stream times out, and returns the observed event kinds.
func sseEvents(t *testing.T, url, stopAt string) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	var kinds []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "event: ") {
			continue
		}
		kind := strings.TrimPrefix(line, "event: ")
		kinds = append(kinds, kind)
		if kind == stopAt {
			return kinds
		}
	}
	t.Fatalf("stream ended before %s; saw %v", stopAt, kinds)
	return nil
}

func TestEventStream(t *testing.T) {
	env := newTestServer(t, config.Quota{})
	r := startRun(t, env, false)
	waitForStatus(t, env, r.ID, run.StatusCompleted)

	kinds := sseEvents(t, env.srv.URL+"/api/runs/"+r.ID+"/events", broadcast.KindRunCompleted)
	if kinds[0] != broadcast.KindRunStarted {
		t.Errorf("first event = %q, want run_started", kinds[0])
	}
	if len(kinds) != 16 {
		t.Errorf("got %d events, want 16: %v", len(kinds), kinds)
	}
}

func TestEventStreamFromSeq(t *testing.T) {
	env := newTestServer(t, config.Quota{})
	r := startRun(t, env, false)
	waitForStatus(t, env, r.ID, run.StatusCompleted)

	// Replay from the tail only: seq 15 is the run_completed event.
	kinds := sseEvents(t, env.srv.URL+"/api/runs/"+r.ID+"/events?from_seq=15", broadcast.KindRunCompleted)
	if len(kinds) != 1 {
		t.Errorf("got %d events, want 1: %v", len(kinds), kinds)
	}

	resp, _ := doJSON(t, http.MethodGet, env.srv.URL+"/api/runs/"+r.ID+"/events?from_seq=-1", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative from_seq = %d, want 400", resp.StatusCode)
	}
}

func TestEventStreamUnknownRun(t *testing.T) {
	env := newTestServer(t, config.Quota{})
	resp, _ := doJSON(t, http.MethodGet, env.srv.URL+"/api/runs/nope/events", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
