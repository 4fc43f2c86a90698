package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// handleRunEvents serves a Server-Sent Events stream of run progress. The
// full persisted backlog is replayed first (from ?from_seq, default 0), then
// live events follow in sequence order. A reconnecting client passes the
// last sequence number it saw and may receive that event again, but never
// skips one.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	fromSeq := 0
	if v := r.URL.Query().Get("from_seq"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid from_seq", http.StatusBadRequest)
			return
		}
		fromSeq = n
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Verify the run exists before committing to a stream.
	if _, err := s.engine.Status(runID); err != nil {
		writeError(w, err)
		return
	}

	events, cancel, err := s.bc.Subscribe(runID, fromSeq)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if present

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				// Dropped for falling behind; client reconnects with from_seq.
				fmt.Fprintf(w, "event: reset\ndata: reconnect\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, data)
			flusher.Flush()
		}
	}
}
