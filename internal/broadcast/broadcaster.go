// Package broadcast turns pipeline state transitions into an ordered,
// durable event stream that remote subscribers can replay and follow live.
package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/inkwellhq/inkwell/internal/db"
)

// Event kinds.
const (
	KindRunStarted          = "run_started"
	KindStageStarted        = "stage_started"
	KindStageCompleted      = "stage_completed"
	KindStageFailed         = "stage_failed"
	KindCheckpointReached   = "checkpoint_reached"
	KindRefinementTriggered = "refinement_triggered"
	KindRunCompleted        = "run_completed"
	KindRunFailed           = "run_failed"
	KindRunCancelled        = "run_cancelled"
)

// Event is one immutable progress record. Seq is strictly increasing per
// run, starting at 0.
type Event struct {
	RunID     string          `json:"run_id"`
	Seq       int             `json:"seq"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// Broadcaster assigns sequence numbers, persists every event to the event
// log before fan-out, and delivers to live subscribers in order. A
// subscriber that cannot keep up is disconnected rather than skipped past;
// on reconnect it replays from its last seen sequence number.
type Broadcaster struct {
	db *db.DB

	mu      sync.Mutex
	nextSeq map[string]int
	subs    map[string]map[chan Event]struct{}
}

// New creates a Broadcaster backed by the given event log.
func New(database *db.DB) *Broadcaster {
	return &Broadcaster{
		db:      database,
		nextSeq: make(map[string]int),
		subs:    make(map[string]map[chan Event]struct{}),
	}
}

// Emit records one event for a run and delivers it to live subscribers.
// The durable write happens before any delivery.
func (b *Broadcaster) Emit(runID, kind string, payload interface{}) error {
	var data json.RawMessage
	if payload != nil {
		d, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		data = d
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seq, ok := b.nextSeq[runID]
	if !ok {
		last, err := b.db.LastSeq(runID)
		if err != nil {
			return err
		}
		seq = last + 1
	}

	ev := Event{
		RunID:     runID,
		Seq:       seq,
		Kind:      kind,
		Payload:   data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if err := b.db.AppendRunEvent(runID, seq, kind, string(data)); err != nil {
		return err
	}
	b.nextSeq[runID] = seq + 1

	for ch := range b.subs[runID] {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: disconnect it so it replays on reconnect
			// instead of silently missing events.
			delete(b.subs[runID], ch)
			close(ch)
		}
	}
	return nil
}

// Subscribe returns a channel that first yields the full backlog of events
// for the run starting at fromSeq, then live events, all in sequence order.
// The returned cancel function must be called to release the subscription;
// the channel is closed on cancel or when the subscriber falls behind.
func (b *Broadcaster) Subscribe(runID string, fromSeq int) (<-chan Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	backlog, err := b.db.GetRunEvents(runID, fromSeq)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan Event, len(backlog)+64)
	for _, rec := range backlog {
		ch <- eventFromRecord(rec)
	}

	if b.subs[runID] == nil {
		b.subs[runID] = make(map[chan Event]struct{})
	}
	b.subs[runID][ch] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[runID][ch]; ok {
			delete(b.subs[runID], ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

// History returns the full persisted event history for a run.
func (b *Broadcaster) History(runID string) ([]Event, error) {
	recs, err := b.db.GetRunEvents(runID, 0)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(recs))
	for _, rec := range recs {
		events = append(events, eventFromRecord(rec))
	}
	return events, nil
}

func eventFromRecord(rec db.RunEvent) Event {
	ev := Event{
		RunID:     rec.RunID,
		Seq:       rec.Seq,
		Kind:      rec.Kind,
		Timestamp: rec.Timestamp,
	}
	if rec.Payload != "" {
		ev.Payload = json.RawMessage(rec.Payload)
	}
	return ev
}
