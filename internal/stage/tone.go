package stage

import (
	"context"

	"github.com/inkwellhq/inkwell/internal/run"
)

// toneStage derives the voice and writing guidelines for the piece.
type toneStage struct {
	base
}

func (s *toneStage) Execute(ctx context.Context, in Input) *run.StageResult {
	sr := s.begin()

	prompt := "Define the tone of voice for the content described below.\n\n" +
		briefBlock(in.Params) +
		contextBlock(in) +
		instructionBlock(in) +
		"\n\nOutput a line starting with \"VOICE:\" naming the voice in a short phrase, " +
		"then a \"GUIDELINES:\" section with one concrete writing guideline per line."

	res, err := s.router.Generate(ctx, s.prompt(in, prompt))
	if err != nil {
		return s.fail(sr, err)
	}

	p := run.TonePayload{Raw: res.Text}
	inGuidelines := false
	for _, line := range bulletLines(res.Text) {
		switch {
		case hasPrefixFold(line, "VOICE:"):
			p.Voice = trimLabel(line, "VOICE:")
		case hasPrefixFold(line, "GUIDELINES:"):
			inGuidelines = true
		case inGuidelines:
			p.Guidelines = append(p.Guidelines, line)
		}
	}
	if p.Voice == "" && in.Params.Tone != "" {
		p.Voice = in.Params.Tone
	}

	payload, err := run.NewPayload(run.KindTone, p)
	if err != nil {
		return s.fail(sr, err)
	}
	return s.finish(sr, payload, res)
}
