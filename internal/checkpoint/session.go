// Package checkpoint gates stage-to-stage advancement behind explicit user
// decisions and owns the checkpoint session lifecycle.
package checkpoint

import (
	"time"
)

// Session statuses.
const (
	StatusActive    = "active"
	StatusExpired   = "expired"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Instruction is one piece of user guidance recorded at a paused stage.
// Instructions are cumulative: guidance recorded at stage i applies to every
// stage at or after i for the rest of the run.
type Instruction struct {
	Stage   int    `json:"stage"`
	Text    string `json:"text"`
	AddedAt string `json:"added_at"`
}

// Session tracks manual-approval state for one run in checkpoint mode.
type Session struct {
	ID           string        `json:"id"`
	RunID        string        `json:"run_id"`
	UserID       string        `json:"user_id"`
	Stage        int           `json:"stage"` // currently paused stage ordinal
	Status       string        `json:"status"`
	Instructions []Instruction `json:"instructions,omitempty"`
	LastActivity string        `json:"last_activity"`
	CreatedAt    string        `json:"created_at"`
}

// ExpiresAt returns the instant the session expires given the expiry window.
func (s *Session) ExpiresAt(window time.Duration) time.Time {
	t, err := time.Parse(time.RFC3339, s.LastActivity)
	if err != nil {
		return time.Time{}
	}
	return t.Add(window)
}

// ExpiredAt reports whether the session has passed its expiry window at now.
func (s *Session) ExpiredAt(now time.Time, window time.Duration) bool {
	exp := s.ExpiresAt(window)
	return exp.IsZero() || now.After(exp)
}

// InstructionsThrough returns the text of every instruction recorded at or
// before the given stage ordinal, oldest first.
func (s *Session) InstructionsThrough(ordinal int) []string {
	var out []string
	for _, ins := range s.Instructions {
		if ins.Stage <= ordinal {
			out = append(out, ins.Text)
		}
	}
	return out
}
