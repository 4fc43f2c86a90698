package run

// Statuses for a pipeline run.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusPaused    = "paused_for_checkpoint"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Statuses for a single stage result.
const (
	StagePending   = "pending"
	StageRunning   = "running"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// Params holds the user-supplied inputs for a content-generation run.
type Params struct {
	Topic          string `json:"topic"`
	ContentType    string `json:"content_type"`
	Audience       string `json:"audience,omitempty"`
	Goal           string `json:"goal,omitempty"`
	Tone           string `json:"tone,omitempty"`
	Language       string `json:"language,omitempty"`
	MaxWords       int    `json:"max_words,omitempty"`
	ContextSummary string `json:"context_summary,omitempty"`
}

// Run is the top-level persisted state for a single pipeline run.
type Run struct {
	ID              string        `json:"id"`
	OwnerID         string        `json:"owner_id"`
	OrgID           string        `json:"org_id"`
	Params          Params        `json:"params"`
	CheckpointMode  bool          `json:"checkpoint_mode"`
	CurrentStage    int           `json:"current_stage"`
	Status          string        `json:"status"`
	Stages          []StageResult `json:"stages"`
	RefinementCount int           `json:"refinement_count"`

	// PendingFeedback carries editor feedback into the next writer
	// refinement; cleared once the gate lets the draft proceed.
	PendingFeedback string `json:"pending_feedback,omitempty"`

	TotalTokens  int     `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	CreatedAt    string  `json:"created_at"`
	StartedAt    string  `json:"started_at,omitempty"`
	CompletedAt  string  `json:"completed_at,omitempty"`
	UpdatedAt    string  `json:"updated_at"`
}

// Terminal reports whether the run has reached a terminal status.
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StageAt returns the stage result at the given ordinal, or nil if the stage
// has not been recorded yet.
func (r *Run) StageAt(ordinal int) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Ordinal == ordinal {
			return &r.Stages[i]
		}
	}
	return nil
}

// SetStage records a stage result, replacing any existing result at the same
// ordinal. Exactly one result per ordinal is kept.
func (r *Run) SetStage(sr StageResult) {
	for i := range r.Stages {
		if r.Stages[i].Ordinal == sr.Ordinal {
			r.Stages[i] = sr
			return
		}
	}
	r.Stages = append(r.Stages, sr)
}

// StageResult records the outcome of one agent stage execution.
type StageResult struct {
	Name        string  `json:"name"`
	Ordinal     int     `json:"ordinal"`
	Status      string  `json:"status"`
	Payload     Payload `json:"payload,omitempty"`
	Tokens      int     `json:"tokens,omitempty"`
	CostUSD     float64 `json:"cost_usd,omitempty"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
	StartedAt   string  `json:"started_at,omitempty"`
	CompletedAt string  `json:"completed_at,omitempty"`
	Error       string  `json:"error,omitempty"`
}
