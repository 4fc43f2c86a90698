package stage

import (
	"context"
	"strings"

	"github.com/inkwellhq/inkwell/internal/run"
)

// outlineStage produces the article structure from keywords and tone.
type outlineStage struct {
	base
}

func (s *outlineStage) Execute(ctx context.Context, in Input) *run.StageResult {
	sr := s.begin()

	var kw run.KeywordsPayload
	if err := in.Outputs[TrendsKeywords].Decode(run.KindKeywords, &kw); err != nil {
		return s.fail(sr, err)
	}
	var tone run.TonePayload
	if err := in.Outputs[ToneOfVoice].Decode(run.KindTone, &tone); err != nil {
		return s.fail(sr, err)
	}

	prompt := "Design an outline for the content described below.\n\n" +
		briefBlock(in.Params) +
		"Voice: " + tone.Voice + "\n" +
		"Target keywords: " + strings.Join(kw.Keywords, ", ") + "\n" +
		contextBlock(in) +
		instructionBlock(in) +
		"\n\nOutput a line starting with \"TITLE:\" with the working title, then one " +
		"section heading per line in reading order. After each heading you may add " +
		"\" :: \" and a one-sentence summary of the section."

	res, err := s.router.Generate(ctx, s.prompt(in, prompt))
	if err != nil {
		return s.fail(sr, err)
	}

	p := run.OutlinePayload{Raw: res.Text}
	for _, line := range bulletLines(res.Text) {
		if hasPrefixFold(line, "TITLE:") {
			p.Title = trimLabel(line, "TITLE:")
			continue
		}
		heading, summary, _ := strings.Cut(line, " :: ")
		p.Sections = append(p.Sections, run.OutlineSection{
			Heading: strings.TrimSpace(heading),
			Summary: strings.TrimSpace(summary),
		})
	}
	if p.Title == "" {
		p.Title = in.Params.Topic
	}

	payload, err := run.NewPayload(run.KindOutline, p)
	if err != nil {
		return s.fail(sr, err)
	}
	return s.finish(sr, payload, res)
}
