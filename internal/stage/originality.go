package stage

import (
	"context"
	"strconv"
	"strings"

	"github.com/inkwellhq/inkwell/internal/run"
)

// originalityStage reviews the optimized content for derivative passages and
// rewrites anything it flags.
type originalityStage struct {
	base
}

func (s *originalityStage) Execute(ctx context.Context, in Input) *run.StageResult {
	sr := s.begin()

	var seo run.SEOPayload
	if err := in.Outputs[SEOOptimizer].Decode(run.KindSEO, &seo); err != nil {
		return s.fail(sr, err)
	}

	prompt := "Check the content below for passages that read as generic, templated, or " +
		"likely duplicated from common sources. Rewrite any flagged passage in place.\n" +
		instructionBlock(in) +
		"\n\nOutput a first line \"ORIGINALITY: <score 1-10>\", then a \"FLAGGED:\" section " +
		"with one short quote per flagged passage (or nothing if clean), then a line \"---\", " +
		"then the full content with rewrites applied.\n\nContent:\n" + seo.Content

	res, err := s.router.Generate(ctx, s.prompt(in, prompt))
	if err != nil {
		return s.fail(sr, err)
	}

	p := run.OriginalityPayload{Content: seo.Content}
	head := res.Text
	if h, body, found := strings.Cut(res.Text, "\n---\n"); found {
		head = h
		p.Content = strings.TrimSpace(body)
	}
	inFlagged := false
	for _, line := range bulletLines(head) {
		switch {
		case hasPrefixFold(line, "ORIGINALITY:"):
			if v, err := strconv.ParseFloat(trimLabel(line, "ORIGINALITY:"), 64); err == nil {
				p.OriginalityScore = v
			}
		case hasPrefixFold(line, "FLAGGED:"):
			inFlagged = true
		case inFlagged:
			p.FlaggedPassages = append(p.FlaggedPassages, line)
		}
	}

	payload, err := run.NewPayload(run.KindOriginality, p)
	if err != nil {
		return s.fail(sr, err)
	}
	return s.finish(sr, payload, res)
}
