// Package stage defines the uniform contract every agent stage implements
// and the fixed seven-stage content pipeline.
package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/inkwellhq/inkwell/internal/llm"
	"github.com/inkwellhq/inkwell/internal/run"
)

// Stage names in pipeline order.
const (
	TrendsKeywords   = "trends_keywords"
	ToneOfVoice      = "tone_of_voice"
	StructureOutline = "structure_outline"
	Writer           = "writer"
	SEOOptimizer     = "seo_optimizer"
	OriginalityCheck = "originality_check"
	FinalReview      = "final_review"
)

// WriterOrdinal is the cursor target for quality-gate rollbacks.
const WriterOrdinal = 3

// Input is the accumulated run state handed to a stage execution.
type Input struct {
	Params run.Params

	// Outputs maps completed prior stage names to their payloads.
	Outputs map[string]run.Payload

	// Instructions holds all checkpoint instructions recorded at or before
	// this stage's ordinal, oldest first.
	Instructions []string

	// Feedback carries quality-gate review feedback on writer refinements.
	Feedback string

	// Context is opaque extra text supplied by the document collaborator.
	Context string

	// Model overrides the endpoint's configured model when set.
	Model string
}

// Stage is the uniform contract for one unit of agent work. Execute is a
// pure function of its input with respect to pipeline data; provider errors
// are captured as a failed StageResult, never returned as a Go error.
type Stage interface {
	Name() string
	Ordinal() int
	DependsOn() []string
	Execute(ctx context.Context, in Input) *run.StageResult
}

// Pipeline returns the seven stages in execution order, each bound to the
// given router.
func Pipeline(router *llm.Router) []Stage {
	return []Stage{
		&trendsStage{base{router, TrendsKeywords, 0, nil}},
		&toneStage{base{router, ToneOfVoice, 1, nil}},
		&outlineStage{base{router, StructureOutline, 2, []string{TrendsKeywords, ToneOfVoice}}},
		&writerStage{base{router, Writer, WriterOrdinal, []string{StructureOutline, ToneOfVoice}}},
		&seoStage{base{router, SEOOptimizer, 4, []string{Writer, TrendsKeywords}}},
		&originalityStage{base{router, OriginalityCheck, 5, []string{SEOOptimizer}}},
		&reviewStage{base{router, FinalReview, 6, []string{OriginalityCheck}}},
	}
}

// Names returns the stage names in execution order.
func Names() []string {
	return []string{
		TrendsKeywords, ToneOfVoice, StructureOutline, Writer,
		SEOOptimizer, OriginalityCheck, FinalReview,
	}
}

// CheckDeps verifies that every declared dependency of s is present in the
// input. A missing dependency is a sequencing bug in the caller, not a
// runtime failure mode.
func CheckDeps(s Stage, in Input) error {
	for _, dep := range s.DependsOn() {
		if _, ok := in.Outputs[dep]; !ok {
			return fmt.Errorf("stage %s invoked without completed dependency %s", s.Name(), dep)
		}
	}
	return nil
}

// base carries the fields shared by all stage implementations.
type base struct {
	router  *llm.Router
	name    string
	ordinal int
	deps    []string
}

func (b *base) Name() string        { return b.name }
func (b *base) Ordinal() int        { return b.ordinal }
func (b *base) DependsOn() []string { return b.deps }

// begin returns a running StageResult stamped with the start time.
func (b *base) begin() *run.StageResult {
	return &run.StageResult{
		Name:      b.name,
		Ordinal:   b.ordinal,
		Status:    run.StageRunning,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// finish marks sr completed with the given payload and usage totals.
func (b *base) finish(sr *run.StageResult, payload run.Payload, results ...*llm.Result) *run.StageResult {
	sr.Status = run.StageCompleted
	sr.Payload = payload
	for _, res := range results {
		sr.Tokens += res.Tokens
		sr.CostUSD += res.CostUSD
	}
	sr.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	sr.DurationMs = durationMs(sr.StartedAt, sr.CompletedAt)
	return sr
}

// fail marks sr failed with the error detail.
func (b *base) fail(sr *run.StageResult, err error) *run.StageResult {
	sr.Status = run.StageFailed
	sr.Error = err.Error()
	sr.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	sr.DurationMs = durationMs(sr.StartedAt, sr.CompletedAt)
	return sr
}

func durationMs(start, end string) int64 {
	s, err1 := time.Parse(time.RFC3339, start)
	e, err2 := time.Parse(time.RFC3339, end)
	if err1 != nil || err2 != nil {
		return 0
	}
	return e.Sub(s).Milliseconds()
}

// systemPrompts holds the role framing for each stage's generation calls.
var systemPrompts = map[string]string{
	TrendsKeywords:   "You are a market research specialist for content marketing teams.",
	ToneOfVoice:      "You are a brand voice strategist.",
	StructureOutline: "You are a senior content architect who designs article structures.",
	Writer:           "You are a professional long-form content writer.",
	SEOOptimizer:     "You are a technical SEO editor.",
	OriginalityCheck: "You are an originality reviewer who detects derivative or duplicated content.",
	FinalReview:      "You are a managing editor performing a final pass before publication.",
}

// prompt builds the routed prompt for this stage with its role framing.
func (b *base) prompt(in Input, user string) llm.Prompt {
	return llm.Prompt{System: systemPrompts[b.name], User: user, ModelHint: in.Model}
}

// hasPrefixFold reports whether s starts with prefix, case-insensitively.
func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// trimLabel strips a leading label like "SCORE:" and surrounding space.
func trimLabel(s, label string) string {
	return strings.TrimSpace(s[len(label):])
}

// instructionBlock renders cumulative user instructions for inclusion in a
// prompt, or "" when there are none.
func instructionBlock(in Input) string {
	if len(in.Instructions) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\nUser instructions (apply all):\n")
	for _, instr := range in.Instructions {
		sb.WriteString("- ")
		sb.WriteString(instr)
		sb.WriteString("\n")
	}
	return sb.String()
}

// contextBlock renders the collaborator-supplied context text, or "".
func contextBlock(in Input) string {
	if in.Context == "" {
		return ""
	}
	return "\n\nBackground context:\n" + in.Context
}

// briefBlock renders the run parameters shared by every stage prompt.
func briefBlock(p run.Params) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\nContent type: %s\n", p.Topic, p.ContentType)
	if p.Audience != "" {
		fmt.Fprintf(&sb, "Audience: %s\n", p.Audience)
	}
	if p.Goal != "" {
		fmt.Fprintf(&sb, "Goal: %s\n", p.Goal)
	}
	if p.Tone != "" {
		fmt.Fprintf(&sb, "Tone: %s\n", p.Tone)
	}
	if p.Language != "" {
		fmt.Fprintf(&sb, "Language: %s\n", p.Language)
	}
	if p.MaxWords > 0 {
		fmt.Fprintf(&sb, "Length: at most %d words\n", p.MaxWords)
	}
	return sb.String()
}

// bulletLines extracts non-empty lines from text, stripping common list
// markers and numbering.
func bulletLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• \t")
		for len(line) > 0 && line[0] >= '0' && line[0] <= '9' {
			line = line[1:]
		}
		line = strings.TrimLeft(line, ".) ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
