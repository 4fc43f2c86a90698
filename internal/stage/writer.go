package stage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/inkwellhq/inkwell/internal/llm"
	"github.com/inkwellhq/inkwell/internal/run"
)

// writerStage drafts the full content from the outline, then runs an editor
// pass over its own draft. The editor's score and feedback land in the
// payload and drive the quality gate's refine-or-proceed decision.
type writerStage struct {
	base
}

func (s *writerStage) Execute(ctx context.Context, in Input) *run.StageResult {
	sr := s.begin()

	var outline run.OutlinePayload
	if err := in.Outputs[StructureOutline].Decode(run.KindOutline, &outline); err != nil {
		return s.fail(sr, err)
	}
	var tone run.TonePayload
	if err := in.Outputs[ToneOfVoice].Decode(run.KindTone, &tone); err != nil {
		return s.fail(sr, err)
	}

	var sb strings.Builder
	sb.WriteString("Write the full piece described below, following the outline exactly.\n\n")
	sb.WriteString(briefBlock(in.Params))
	fmt.Fprintf(&sb, "Title: %s\nVoice: %s\n", outline.Title, tone.Voice)
	if len(tone.Guidelines) > 0 {
		sb.WriteString("Guidelines:\n")
		for _, g := range tone.Guidelines {
			sb.WriteString("- " + g + "\n")
		}
	}
	sb.WriteString("Outline:\n")
	for _, sec := range outline.Sections {
		sb.WriteString("- " + sec.Heading)
		if sec.Summary != "" {
			sb.WriteString(": " + sec.Summary)
		}
		sb.WriteString("\n")
	}
	sb.WriteString(contextBlock(in))
	sb.WriteString(instructionBlock(in))
	if in.Feedback != "" {
		sb.WriteString("\n\nA previous draft was reviewed. Address every point of this feedback:\n")
		sb.WriteString(in.Feedback)
	}
	sb.WriteString("\n\nOutput only the finished content, no commentary.")

	draft, err := s.router.Generate(ctx, s.prompt(in, sb.String()))
	if err != nil {
		return s.fail(sr, err)
	}

	review, err := s.review(ctx, in, draft.Text)
	if err != nil {
		return s.fail(sr, err)
	}

	p := run.DraftPayload{
		Content:        draft.Text,
		WordCount:      len(strings.Fields(draft.Text)),
		QualityScore:   review.score,
		ReviewFeedback: review.feedback,
	}
	payload, err := run.NewPayload(run.KindDraft, p)
	if err != nil {
		return s.fail(sr, err)
	}
	return s.finish(sr, payload, draft, review.res)
}

type editorReview struct {
	score    float64
	feedback string
	res      *llm.Result
}

// review runs the editor pass over a draft and parses its score.
func (s *writerStage) review(ctx context.Context, in Input, draft string) (*editorReview, error) {
	prompt := "Review the draft below against the brief. Rate overall quality from 1 to 10.\n\n" +
		briefBlock(in.Params) +
		"\nDraft:\n" + draft +
		"\n\nOutput a first line \"SCORE: <number>\" and then concrete, actionable feedback."

	res, err := s.router.Generate(ctx, llm.Prompt{
		System:    "You are a demanding content editor. You are strict but specific.",
		User:      prompt,
		ModelHint: in.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("editor review: %w", err)
	}

	score := 0.0
	feedback := res.Text
	line, rest, _ := strings.Cut(res.Text, "\n")
	trimmed := strings.TrimSpace(line)
	if hasPrefixFold(trimmed, "SCORE:") {
		if v, err := strconv.ParseFloat(trimLabel(trimmed, "SCORE:"), 64); err == nil {
			score = v
			feedback = strings.TrimSpace(rest)
		}
	}

	return &editorReview{score: score, feedback: feedback, res: res}, nil
}
