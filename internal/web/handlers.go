package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/inkwellhq/inkwell/internal/run"
)

// startRunRequest is the body of POST /api/runs.
type startRunRequest struct {
	Params         run.Params `json:"params"`
	CheckpointMode bool       `json:"checkpoint_mode"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	caller, err := identity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if caller.OrgID == "" {
		writeError(w, fmt.Errorf("missing X-Org-ID header"))
		return
	}

	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("decode request: %w", err))
		return
	}

	rn, err := s.engine.StartRun(req.Params, caller, req.CheckpointMode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rn)
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	rn, err := s.engine.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	rn, err := s.engine.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	caller, err := identity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := s.controller.GetStatus(r.PathValue("id"), caller.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// sessionActionRequest is the body of POST /api/sessions/{id}/actions.
type sessionActionRequest struct {
	// Action is one of approve, edit, instruct, regenerate, stop.
	Action string `json:"action"`

	// Payload is the replacement stage output for edit.
	Payload *run.Payload `json:"payload,omitempty"`

	// Text holds instructions for instruct and (optionally) regenerate.
	Text string `json:"text,omitempty"`
}

func (s *Server) handleSessionAction(w http.ResponseWriter, r *http.Request) {
	caller, err := identity(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req sessionActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("decode request: %w", err))
		return
	}

	sessionID := r.PathValue("id")
	var rn *run.Run
	switch req.Action {
	case "approve":
		rn, err = s.controller.Approve(sessionID, caller.UserID)
	case "edit":
		if req.Payload == nil {
			writeError(w, fmt.Errorf("edit action requires a payload"))
			return
		}
		rn, err = s.controller.Edit(sessionID, caller.UserID, *req.Payload)
	case "instruct":
		rn, err = s.controller.AddInstructions(sessionID, caller.UserID, req.Text)
	case "regenerate":
		rn, err = s.controller.Regenerate(sessionID, caller.UserID, req.Text)
	case "stop":
		rn, err = s.controller.Stop(sessionID, caller.UserID)
	default:
		writeError(w, fmt.Errorf("unknown action %q", req.Action))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rn)
}
