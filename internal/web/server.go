// Package web exposes the pipeline engine over HTTP: a JSON API for runs and
// checkpoint actions, plus a Server-Sent Events stream of run progress.
// Authentication happens upstream; the caller identity arrives in trusted
// headers.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/inkwellhq/inkwell/internal/broadcast"
	"github.com/inkwellhq/inkwell/internal/checkpoint"
	"github.com/inkwellhq/inkwell/internal/engine"
	"github.com/inkwellhq/inkwell/internal/quota"
)

// Server is the HTTP API server.
type Server struct {
	engine     *engine.Engine
	controller *checkpoint.Controller
	bc         *broadcast.Broadcaster
	addr       string
}

// NewServer creates a Server.
func NewServer(eng *engine.Engine, ctrl *checkpoint.Controller, bc *broadcast.Broadcaster, addr string) *Server {
	return &Server{engine: eng, controller: ctrl, bc: bc, addr: addr}
}

// Handler returns the API route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/runs", s.handleStartRun)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRunStatus)
	mux.HandleFunc("POST /api/runs/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSessionStatus)
	mux.HandleFunc("POST /api/sessions/{id}/actions", s.handleSessionAction)
	return mux
}

// Start runs the HTTP server until it fails.
func (s *Server) Start() error {
	log.Printf("inkwell API listening on %s", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

// identity extracts the trusted caller identity set by the auth layer.
func identity(r *http.Request) (engine.Identity, error) {
	id := engine.Identity{
		UserID: r.Header.Get("X-User-ID"),
		OrgID:  r.Header.Get("X-Org-ID"),
	}
	if id.UserID == "" {
		return id, fmt.Errorf("missing X-User-ID header")
	}
	return id, nil
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		status = http.StatusPaymentRequired
	case errors.Is(err, checkpoint.ErrSessionExpired):
		status = http.StatusGone
	case errors.Is(err, checkpoint.ErrSessionBusy):
		status = http.StatusConflict
	case errors.Is(err, checkpoint.ErrNotOwner):
		status = http.StatusForbidden
	case strings.Contains(err.Error(), "not found"):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
