// Package engine drives the seven-stage content pipeline: it owns all run
// and stage-result mutation, applies the quality gate, and hands control to
// the checkpoint layer between stages when checkpoint mode is on.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell/internal/broadcast"
	"github.com/inkwellhq/inkwell/internal/checkpoint"
	"github.com/inkwellhq/inkwell/internal/gate"
	"github.com/inkwellhq/inkwell/internal/quota"
	"github.com/inkwellhq/inkwell/internal/run"
	"github.com/inkwellhq/inkwell/internal/stage"
)

// Identity is the authenticated caller, supplied by the upstream auth
// collaborator and trusted as-is.
type Identity struct {
	UserID string
	OrgID  string
}

// Retriever is the document collaborator boundary: it supplies contextual
// text that stages fold into their prompts as opaque extra input.
type Retriever interface {
	Context(ctx context.Context, params run.Params) (string, error)
}

// Options holds the engine's policy knobs.
type Options struct {
	StageTimeout time.Duration
	Gate         gate.Policy
	DefaultModel string
}

// Engine is the pipeline state machine.
type Engine struct {
	store     *run.Store
	sessions  *checkpoint.Store
	stages    []stage.Stage
	bc        *broadcast.Broadcaster
	quota     quota.Checker
	retriever Retriever // may be nil
	opts      Options

	wg sync.WaitGroup
}

// New creates an Engine. retriever may be nil when no document collaborator
// is configured.
func New(store *run.Store, sessions *checkpoint.Store, stages []stage.Stage,
	bc *broadcast.Broadcaster, qc quota.Checker, retriever Retriever, opts Options) *Engine {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 5 * time.Minute
	}
	if opts.Gate == (gate.Policy{}) {
		opts.Gate = gate.DefaultPolicy()
	}
	return &Engine{
		store:     store,
		sessions:  sessions,
		stages:    stages,
		bc:        bc,
		quota:     qc,
		retriever: retriever,
		opts:      opts,
	}
}

// Wait blocks until all in-flight run goroutines have exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// StartRun validates params, checks quota, persists a new run, and begins
// executing stage 0 in the background. Nothing is persisted when validation
// or the quota check rejects the start.
func (e *Engine) StartRun(params run.Params, caller Identity, checkpointMode bool) (*run.Run, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if caller.UserID == "" || caller.OrgID == "" {
		return nil, fmt.Errorf("caller identity is required")
	}
	if err := e.quota.AllowRun(caller.OrgID); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	r := &run.Run{
		ID:             uuid.NewString(),
		OwnerID:        caller.UserID,
		OrgID:          caller.OrgID,
		Params:         params,
		CheckpointMode: checkpointMode,
		Status:         run.StatusPending,
		CreatedAt:      now,
	}
	if err := e.store.Create(r); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if err := e.quota.RecordRunStart(r.ID, r.OrgID); err != nil {
		// Remove the half-created run so nothing pending lingers on disk.
		_ = e.store.Delete(r.ID)
		return nil, fmt.Errorf("record run start: %w", err)
	}

	r, err := e.store.Update(r.ID, func(r *run.Run) {
		r.Status = run.StatusRunning
		r.StartedAt = time.Now().UTC().Format(time.RFC3339)
	})
	if err != nil {
		return nil, err
	}
	e.emit(r.ID, broadcast.KindRunStarted, map[string]interface{}{
		"checkpoint_mode": checkpointMode,
		"topic":           params.Topic,
	})

	e.spawn(r.ID)
	return r, nil
}

// Status returns the current persisted state of a run.
func (e *Engine) Status(runID string) (*run.Run, error) {
	return e.store.Get(runID)
}

// Cancel moves a run to cancelled from any non-terminal state and releases
// its checkpoint session. An in-flight stage execution is not aborted; its
// result is discarded when it arrives.
func (e *Engine) Cancel(runID string) error {
	r, err := e.store.Get(runID)
	if err != nil {
		return err
	}
	if r.Terminal() {
		return fmt.Errorf("run %s is already %s", runID, r.Status)
	}

	if _, err := e.store.Update(runID, func(r *run.Run) {
		r.Status = run.StatusCancelled
		r.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	}); err != nil {
		return err
	}
	if err := e.sessions.CancelActive(runID); err != nil {
		return fmt.Errorf("release session: %w", err)
	}
	e.emit(runID, broadcast.KindRunCancelled, nil)
	return nil
}

// Resume advances a paused run past its current stage: the next stage starts
// executing, or the run completes if the final stage was just approved.
// The updated run is returned so the caller can observe completion.
func (e *Engine) Resume(runID string) (*run.Run, error) {
	r, err := e.store.Get(runID)
	if err != nil {
		return nil, err
	}
	if r.Status != run.StatusPaused {
		return nil, fmt.Errorf("run %s is %s, not paused", runID, r.Status)
	}
	cur := r.StageAt(r.CurrentStage)
	if cur == nil || cur.Status != run.StageCompleted {
		return nil, fmt.Errorf("current stage has no completed result; regenerate or stop")
	}

	if r.CurrentStage == len(e.stages)-1 {
		return e.complete(runID)
	}

	r, err = e.store.Update(runID, func(r *run.Run) {
		r.Status = run.StatusRunning
		r.CurrentStage++
	})
	if err != nil {
		return nil, err
	}
	e.spawn(runID)
	return r, nil
}

// Regenerate re-executes the currently paused stage in place. The cursor
// does not move; the new result replaces the old one at the same ordinal.
func (e *Engine) Regenerate(runID string) (*run.Run, error) {
	r, err := e.store.Get(runID)
	if err != nil {
		return nil, err
	}
	if r.Status != run.StatusPaused {
		return nil, fmt.Errorf("run %s is %s, not paused", runID, r.Status)
	}

	r, err = e.store.Update(runID, func(r *run.Run) {
		r.Status = run.StatusRunning
	})
	if err != nil {
		return nil, err
	}
	e.spawn(runID)
	return r, nil
}

// ReplacePayload substitutes a user-authored payload for the currently
// paused stage's result. Downstream stages see the edited payload exactly as
// if the agent had produced it.
func (e *Engine) ReplacePayload(runID string, ordinal int, payload run.Payload) (*run.Run, error) {
	r, err := e.store.Get(runID)
	if err != nil {
		return nil, err
	}
	if r.Status != run.StatusPaused {
		return nil, fmt.Errorf("run %s is %s, not paused", runID, r.Status)
	}
	if ordinal != r.CurrentStage {
		return nil, fmt.Errorf("can only edit the paused stage %d, not %d", r.CurrentStage, ordinal)
	}
	cur := r.StageAt(ordinal)
	if cur == nil {
		return nil, fmt.Errorf("stage %d has no result to edit", ordinal)
	}

	return e.store.Update(runID, func(r *run.Run) {
		sr := r.StageAt(ordinal)
		sr.Payload = payload
		sr.Status = run.StageCompleted
		sr.Error = ""
	})
}

// spawn launches the run loop for a run in the background.
func (e *Engine) spawn(runID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.loop(runID)
	}()
}

// loop executes stages from the run's cursor until the run pauses, fails,
// completes, or is cancelled. State is persisted before every suspension
// point and the loop holds no locks across stage execution.
func (e *Engine) loop(runID string) {
	for {
		r, err := e.store.Get(runID)
		if err != nil || r.Status != run.StatusRunning {
			return
		}
		ord := r.CurrentStage
		if ord >= len(e.stages) {
			e.failRun(runID, "", fmt.Errorf("stage cursor %d out of range", ord))
			return
		}
		st := e.stages[ord]

		in, err := e.buildInput(r, st)
		if err != nil {
			// Contract violation: unreachable under correct sequencing.
			e.failRun(runID, st.Name(), fmt.Errorf("stage contract violation: %w", err))
			return
		}

		e.emit(runID, broadcast.KindStageStarted, map[string]interface{}{
			"stage": st.Name(), "ordinal": ord,
		})

		ctx, cancel := context.WithTimeout(context.Background(), e.opts.StageTimeout)
		sr := st.Execute(ctx, in)
		cancel()

		// Reload after the long-lived call: the run may have been cancelled
		// while the stage was in flight, in which case the result is
		// discarded rather than resurrecting the run.
		r, err = e.store.Get(runID)
		if err != nil || r.Status != run.StatusRunning {
			return
		}

		r, err = e.store.Update(runID, func(r *run.Run) {
			r.SetStage(*sr)
			r.TotalTokens += sr.Tokens
			r.TotalCostUSD += sr.CostUSD
		})
		if err != nil {
			return
		}
		if err := e.quota.ReportUsage(runID, r.OrgID, st.Name(), sr.Tokens, sr.CostUSD); err != nil {
			// Accounting must not take down the run.
			log.Printf("report usage for run %s: %v", runID, err)
		}

		if sr.Status == run.StageFailed {
			e.emit(runID, broadcast.KindStageFailed, map[string]interface{}{
				"stage": st.Name(), "ordinal": ord, "error": sr.Error,
			})
			if r.CheckpointMode {
				// Pause instead of failing so the user can regenerate or stop.
				e.pause(r, ord)
				return
			}
			e.failRun(runID, st.Name(), fmt.Errorf("%s", sr.Error))
			return
		}

		e.emit(runID, broadcast.KindStageCompleted, map[string]interface{}{
			"stage": st.Name(), "ordinal": ord, "tokens": sr.Tokens,
		})

		if st.Name() == stage.Writer {
			refined, err := e.applyGate(r, sr)
			if err != nil {
				e.failRun(runID, st.Name(), err)
				return
			}
			if refined {
				continue
			}
		}

		if r.CheckpointMode {
			e.pause(r, ord)
			return
		}

		if ord == len(e.stages)-1 {
			_, _ = e.complete(runID)
			return
		}
		if _, err := e.store.Update(runID, func(r *run.Run) {
			r.CurrentStage = ord + 1
		}); err != nil {
			return
		}
	}
}

// applyGate evaluates the quality gate on a completed writer result and, if
// refining, rewinds the cursor to the writer stage. Returns true when a
// refinement was triggered.
func (e *Engine) applyGate(r *run.Run, sr *run.StageResult) (bool, error) {
	var draft run.DraftPayload
	if err := sr.Payload.Decode(run.KindDraft, &draft); err != nil {
		return false, fmt.Errorf("decode draft for quality gate: %w", err)
	}

	decision := e.opts.Gate.Evaluate(draft, r.RefinementCount)
	if !decision.Refine {
		if r.PendingFeedback != "" {
			if _, err := e.store.Update(r.ID, func(r *run.Run) {
				r.PendingFeedback = ""
			}); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	if _, err := e.store.Update(r.ID, func(r *run.Run) {
		r.RefinementCount++
		r.PendingFeedback = decision.Feedback
		r.CurrentStage = stage.WriterOrdinal
	}); err != nil {
		return false, err
	}
	e.emit(r.ID, broadcast.KindRefinementTriggered, decision)
	return true, nil
}

// pause suspends the run for a checkpoint decision. The session update only
// happens after the run state is durably paused, so idempotent replay of a
// crash-interrupted pause is safe.
func (e *Engine) pause(r *run.Run, ord int) {
	if _, err := e.store.Update(r.ID, func(r *run.Run) {
		r.Status = run.StatusPaused
	}); err != nil {
		return
	}
	sess, err := e.sessions.EnsureActive(r.ID, r.OwnerID, ord)
	if err != nil {
		e.failRun(r.ID, "", fmt.Errorf("create checkpoint session: %w", err))
		return
	}
	e.emit(r.ID, broadcast.KindCheckpointReached, map[string]interface{}{
		"stage": e.stages[ord].Name(), "ordinal": ord, "session_id": sess.ID,
	})
}

// complete moves a run to completed after the final stage.
func (e *Engine) complete(runID string) (*run.Run, error) {
	r, err := e.store.Update(runID, func(r *run.Run) {
		r.Status = run.StatusCompleted
		r.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	})
	if err != nil {
		return nil, err
	}
	e.emit(runID, broadcast.KindRunCompleted, map[string]interface{}{
		"total_tokens": r.TotalTokens,
		"total_cost":   r.TotalCostUSD,
	})
	return r, nil
}

// failRun moves a run to failed with a diagnostic.
func (e *Engine) failRun(runID, stageName string, cause error) {
	_, _ = e.store.Update(runID, func(r *run.Run) {
		r.Status = run.StatusFailed
		r.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	})
	e.emit(runID, broadcast.KindRunFailed, map[string]interface{}{
		"stage": stageName, "error": cause.Error(),
	})
}

// buildInput assembles the accumulated state a stage executes against:
// completed prior outputs, cumulative checkpoint instructions, pending gate
// feedback, and collaborator-supplied context.
func (e *Engine) buildInput(r *run.Run, st stage.Stage) (stage.Input, error) {
	in := stage.Input{
		Params:  r.Params,
		Outputs: make(map[string]run.Payload),
		Context: r.Params.ContextSummary,
		Model:   e.opts.DefaultModel,
	}

	for i := range r.Stages {
		sr := &r.Stages[i]
		if sr.Status == run.StageCompleted && sr.Ordinal < st.Ordinal() {
			in.Outputs[sr.Name] = sr.Payload
		}
	}
	if err := stage.CheckDeps(st, in); err != nil {
		return stage.Input{}, err
	}

	if sess, err := e.sessions.ActiveForRun(r.ID); err == nil && sess != nil {
		in.Instructions = sess.InstructionsThrough(st.Ordinal())
	}
	if st.Name() == stage.Writer {
		in.Feedback = r.PendingFeedback
	}

	if e.retriever != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		extra, err := e.retriever.Context(ctx, r.Params)
		cancel()
		if err == nil && extra != "" {
			in.Context = extra
		}
	}
	return in, nil
}

func (e *Engine) emit(runID, kind string, payload interface{}) {
	if err := e.bc.Emit(runID, kind, payload); err != nil {
		log.Printf("emit %s for run %s: %v", kind, runID, err)
	}
}

// validateParams rejects starts that could never produce a run.
func validateParams(p run.Params) error {
	if p.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if p.ContentType == "" {
		return fmt.Errorf("content type is required")
	}
	if p.MaxWords < 0 {
		return fmt.Errorf("max words must not be negative")
	}
	return nil
}
