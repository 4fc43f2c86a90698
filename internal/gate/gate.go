// Package gate implements the bounded refine-or-proceed decision applied
// after the writer stage's editor review.
package gate

import (
	"fmt"

	"github.com/inkwellhq/inkwell/internal/run"
)

// Policy holds the quality-gate parameters. Both values are product policy,
// configurable, not load-bearing beyond loop termination.
type Policy struct {
	Threshold      float64 // minimum acceptable editor score, of 10
	MaxRefinements int     // ceiling on automatic writer re-runs
}

// DefaultPolicy returns the product defaults: threshold 8 of 10, at most
// 2 refinements.
func DefaultPolicy() Policy {
	return Policy{Threshold: 8.0, MaxRefinements: 2}
}

// Decision is the outcome of one gate evaluation.
type Decision struct {
	Refine   bool    `json:"refine"`
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback,omitempty"`
	Reason   string  `json:"reason"`
}

// Evaluate decides whether to send the draft back to the writer.
// refinements is the number of rollbacks already taken for this run. The
// gate proceeds regardless of score once the refinement budget is spent, so
// the pipeline always terminates.
func (p Policy) Evaluate(draft run.DraftPayload, refinements int) Decision {
	d := Decision{Score: draft.QualityScore, Feedback: draft.ReviewFeedback}

	if draft.QualityScore >= p.Threshold {
		d.Reason = fmt.Sprintf("score %.1f meets threshold %.1f", draft.QualityScore, p.Threshold)
		return d
	}
	if refinements >= p.MaxRefinements {
		d.Reason = fmt.Sprintf("score %.1f below threshold %.1f but refinement budget (%d) spent",
			draft.QualityScore, p.Threshold, p.MaxRefinements)
		return d
	}

	d.Refine = true
	d.Reason = fmt.Sprintf("score %.1f below threshold %.1f, refinement %d of %d",
		draft.QualityScore, p.Threshold, refinements+1, p.MaxRefinements)
	return d
}
