package stage

import (
	"context"
	"strings"

	"github.com/inkwellhq/inkwell/internal/run"
)

// reviewStage performs the final editorial pass and produces the publishable
// version of the content.
type reviewStage struct {
	base
}

func (s *reviewStage) Execute(ctx context.Context, in Input) *run.StageResult {
	sr := s.begin()

	var orig run.OriginalityPayload
	if err := in.Outputs[OriginalityCheck].Decode(run.KindOriginality, &orig); err != nil {
		return s.fail(sr, err)
	}

	prompt := "Perform a final editorial pass on the content below: fix grammar, tighten " +
		"wording, verify it satisfies the brief. Do not restructure.\n\n" +
		briefBlock(in.Params) +
		instructionBlock(in) +
		"\n\nOutput a line \"SUMMARY:\" with a one-sentence editorial summary, then a line " +
		"\"---\", then the final publishable content.\n\nContent:\n" + orig.Content

	res, err := s.router.Generate(ctx, s.prompt(in, prompt))
	if err != nil {
		return s.fail(sr, err)
	}

	p := run.ReviewPayload{Content: orig.Content}
	if head, body, found := strings.Cut(res.Text, "\n---\n"); found {
		p.Content = strings.TrimSpace(body)
		for _, line := range bulletLines(head) {
			if hasPrefixFold(line, "SUMMARY:") {
				p.Summary = trimLabel(line, "SUMMARY:")
			}
		}
	} else {
		p.Content = res.Text
	}

	payload, err := run.NewPayload(run.KindReview, p)
	if err != nil {
		return s.fail(sr, err)
	}
	return s.finish(sr, payload, res)
}
