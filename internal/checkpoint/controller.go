package checkpoint

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/inkwellhq/inkwell/internal/run"
)

// Action boundary errors. These reject at the call site and never touch the
// underlying run's persisted state.
var (
	ErrSessionExpired = errors.New("session expired")
	ErrSessionBusy    = errors.New("session busy")
	ErrNotOwner       = errors.New("caller does not own this session")
)

// Pipeline is the slice of the engine the controller drives. The controller
// is the only component allowed to delay or repeat the engine's advance.
type Pipeline interface {
	Resume(runID string) (*run.Run, error)
	Regenerate(runID string) (*run.Run, error)
	ReplacePayload(runID string, ordinal int, payload run.Payload) (*run.Run, error)
	Cancel(runID string) error
	Status(runID string) (*run.Run, error)
}

// Controller gates stage-to-stage advancement behind explicit user decisions.
type Controller struct {
	sessions *Store
	pipeline Pipeline
	expiry   time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-session action serialization
}

// NewController creates a Controller. expiry is the session idle window
// (product default 24h).
func NewController(sessions *Store, pipeline Pipeline, expiry time.Duration) *Controller {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Controller{
		sessions: sessions,
		pipeline: pipeline,
		expiry:   expiry,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Status describes a session and its paused stage for inspection before the
// user commits to an action.
type Status struct {
	Session     *Session         `json:"session"`
	Run         *run.Run         `json:"run"`
	StageResult *run.StageResult `json:"stage_result,omitempty"`
	ExpiresIn   string           `json:"expires_in"`
}

// GetStatus returns the session, the owning run, and the full output of the
// currently paused stage.
func (c *Controller) GetStatus(sessionID, userID string) (*Status, error) {
	sess, err := c.authorize(sessionID, userID)
	if err != nil {
		return nil, err
	}
	r, err := c.pipeline.Status(sess.RunID)
	if err != nil {
		return nil, err
	}
	return &Status{
		Session:     sess,
		Run:         r,
		StageResult: r.StageAt(sess.Stage),
		ExpiresIn:   time.Until(sess.ExpiresAt(c.expiry)).Round(time.Second).String(),
	}, nil
}

// Approve advances the run using the existing stage output unchanged. On
// final-stage approval the run completes and the session closes.
func (c *Controller) Approve(sessionID, userID string) (*run.Run, error) {
	return c.act(sessionID, userID, func(sess *Session) (*run.Run, error) {
		return c.resume(sess)
	})
}

// Edit replaces the paused stage's payload with user-authored content, then
// advances.
func (c *Controller) Edit(sessionID, userID string, payload run.Payload) (*run.Run, error) {
	return c.act(sessionID, userID, func(sess *Session) (*run.Run, error) {
		if _, err := c.pipeline.ReplacePayload(sess.RunID, sess.Stage, payload); err != nil {
			return nil, err
		}
		return c.resume(sess)
	})
}

// AddInstructions records guidance at the paused stage, then advances. The
// instruction applies to every subsequent stage of the run.
func (c *Controller) AddInstructions(sessionID, userID, text string) (*run.Run, error) {
	if text == "" {
		return nil, fmt.Errorf("instructions text is required")
	}
	return c.act(sessionID, userID, func(sess *Session) (*run.Run, error) {
		if err := c.record(sess, text); err != nil {
			return nil, err
		}
		return c.resume(sess)
	})
}

// Regenerate discards the paused stage's result and re-runs the same stage,
// optionally recording instructions first. The cursor does not advance and
// there is no cap on user-driven retries.
func (c *Controller) Regenerate(sessionID, userID, instructions string) (*run.Run, error) {
	return c.act(sessionID, userID, func(sess *Session) (*run.Run, error) {
		if instructions != "" {
			if err := c.record(sess, instructions); err != nil {
				return nil, err
			}
		}
		return c.pipeline.Regenerate(sess.RunID)
	})
}

// Stop terminates the run as cancelled and closes the session.
func (c *Controller) Stop(sessionID, userID string) (*run.Run, error) {
	return c.act(sessionID, userID, func(sess *Session) (*run.Run, error) {
		// Cancel releases the session as part of run cancellation.
		if err := c.pipeline.Cancel(sess.RunID); err != nil {
			return nil, err
		}
		return c.pipeline.Status(sess.RunID)
	})
}

// act authorizes and serializes one checkpoint action. A second action
// arriving while one is in flight gets ErrSessionBusy rather than
// interleaving two advance decisions on the same paused stage.
func (c *Controller) act(sessionID, userID string, fn func(*Session) (*run.Run, error)) (*run.Run, error) {
	lock := c.lockFor(sessionID)
	if !lock.TryLock() {
		return nil, fmt.Errorf("action already in flight for session %s: %w", sessionID, ErrSessionBusy)
	}
	defer lock.Unlock()

	sess, err := c.authorize(sessionID, userID)
	if err != nil {
		return nil, err
	}

	r, err := fn(sess)
	if err != nil {
		return nil, err
	}

	if _, err := c.sessions.Update(sessionID, func(sess *Session) {
		Touch(sess)
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// authorize loads the session and checks ownership, liveness, and expiry.
func (c *Controller) authorize(sessionID, userID string) (*Session, error) {
	sess, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotOwner)
	}
	if sess.Status == StatusExpired || (sess.Status == StatusActive && sess.ExpiredAt(time.Now().UTC(), c.expiry)) {
		if sess.Status == StatusActive {
			_, _ = c.sessions.Update(sessionID, func(sess *Session) {
				sess.Status = StatusExpired
			})
		}
		return nil, fmt.Errorf("session %s idle past %s, start a new run: %w", sessionID, c.expiry, ErrSessionExpired)
	}
	if sess.Status != StatusActive {
		return nil, fmt.Errorf("session %s is %s", sessionID, sess.Status)
	}
	return sess, nil
}

// resume advances the run and closes the session when the run completed.
func (c *Controller) resume(sess *Session) (*run.Run, error) {
	r, err := c.pipeline.Resume(sess.RunID)
	if err != nil {
		return nil, err
	}
	if r.Status == run.StatusCompleted {
		if _, err := c.sessions.Update(sess.ID, func(sess *Session) {
			sess.Status = StatusCompleted
		}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// record appends an instruction at the session's paused stage.
func (c *Controller) record(sess *Session, text string) error {
	updated, err := c.sessions.Update(sess.ID, func(s *Session) {
		s.Instructions = append(s.Instructions, Instruction{
			Stage:   s.Stage,
			Text:    text,
			AddedAt: time.Now().UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return err
	}
	*sess = *updated
	return nil
}

func (c *Controller) lockFor(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[sessionID] == nil {
		c.locks[sessionID] = &sync.Mutex{}
	}
	return c.locks[sessionID]
}
