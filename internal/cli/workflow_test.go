package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/inkwellhq/inkwell/internal/checkpoint"
	"github.com/inkwellhq/inkwell/internal/run"
)

// agentServer serves canned chat completions keyed on the agent role in the
// system message.
func agentServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var system string
		for _, m := range req.Messages {
			if m.Role == "system" {
				system = m.Content
			}
		}

		var text string
		switch {
		case strings.Contains(system, "market research"):
			text = "INTENT: informational\nKEYWORDS:\n- ai retail\nTRENDS:\n- self checkout"
		case strings.Contains(system, "brand voice"):
			text = "VOICE: direct\nGUIDELINES:\n- short sentences"
		case strings.Contains(system, "content architect"):
			text = "TITLE: AI in Retail\nWhy now :: the forces at work\nWhat to do"
		case strings.Contains(system, "content writer"):
			text = "The retail floor is changing."
		case strings.Contains(system, "content editor"):
			text = "SCORE: 9\nSolid draft."
		case strings.Contains(system, "SEO editor"):
			text = "META_TITLE: AI in Retail\nSLUG: ai-in-retail\n---\nOptimized body."
		case strings.Contains(system, "originality reviewer"):
			text = "ORIGINALITY: 9\n---\nOriginal body."
		case strings.Contains(system, "managing editor"):
			text = "SUMMARY: ready\n---\nFinal body."
		default:
			http.Error(w, "unexpected role: "+system, http.StatusBadRequest)
			return
		}

		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}],"usage":{"total_tokens":100}}`, text)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// isolatedHome points HOME at a temp dir with a config aimed at the canned
// agent server, so commands run against a throwaway state root.
func isolatedHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	srv := agentServer(t)
	cfgDir := filepath.Join(home, ".inkwell")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	cfg := fmt.Sprintf("llm:\n  mode: cloud\n  cloud:\n    base_url: %s\n    model: test-model\n", srv.URL)
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return home
}

// runIDFrom extracts the run ID from "started run <id>" output.
func runIDFrom(t *testing.T, out string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "started run "); ok {
			return strings.TrimSpace(rest)
		}
	}
	t.Fatalf("no run ID in output: %s", out)
	return ""
}

func TestRunStartFinishesBeforeExit(t *testing.T) {
	home := isolatedHome(t)

	out, err := executeCommand("run", "start",
		"--topic", "AI in retail", "--type", "blog", "--checkpoint=false")
	if err != nil {
		t.Fatalf("run start: %v\n%s", err, out)
	}

	// The command must not return while stages are still executing; by the
	// time it does, the persisted run has to be terminal.
	runs := run.NewStore(filepath.Join(home, ".inkwell", "runs"))
	r, err := runs.Get(runIDFrom(t, out))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.Status != run.StatusCompleted {
		t.Fatalf("Status = %q after run start returned, want completed", r.Status)
	}
	if len(r.Stages) != 7 {
		t.Errorf("len(Stages) = %d, want 7", len(r.Stages))
	}
}

func TestCheckpointApproveRunsNextStageBeforeExit(t *testing.T) {
	home := isolatedHome(t)

	out, err := executeCommand("run", "start",
		"--topic", "AI in retail", "--type", "blog", "--checkpoint=true")
	if err != nil {
		t.Fatalf("run start: %v\n%s", err, out)
	}
	runID := runIDFrom(t, out)

	runs := run.NewStore(filepath.Join(home, ".inkwell", "runs"))
	r, err := runs.Get(runID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.Status != run.StatusPaused || r.CurrentStage != 0 {
		t.Fatalf("run is %s at stage %d, want paused at stage 0", r.Status, r.CurrentStage)
	}

	sessions := checkpoint.NewStore(filepath.Join(home, ".inkwell", "sessions"))
	sess, err := sessions.ActiveForRun(runID)
	if err != nil || sess == nil {
		t.Fatalf("ActiveForRun: %v (session %v)", err, sess)
	}

	out, err = executeCommand("checkpoint", "approve", sess.ID)
	if err != nil {
		t.Fatalf("checkpoint approve: %v\n%s", err, out)
	}

	// Approving advances the cursor and executes the next stage on a
	// background goroutine; the command must block until that stage has
	// finished and the run is paused again, not exit mid-flight.
	r, err = runs.Get(runID)
	if err != nil {
		t.Fatalf("Get after approve: %v", err)
	}
	if r.Status != run.StatusPaused || r.CurrentStage != 1 {
		t.Fatalf("run is %s at stage %d after approve, want paused at stage 1", r.Status, r.CurrentStage)
	}
	sr := r.StageAt(1)
	if sr == nil || sr.Status != run.StageCompleted {
		t.Fatalf("stage 1 result = %+v, want completed", sr)
	}
	if !strings.Contains(out, "paused") {
		t.Errorf("approve output %q should report the paused run", out)
	}
}
