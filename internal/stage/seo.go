package stage

import (
	"context"
	"strings"

	"github.com/inkwellhq/inkwell/internal/run"
)

// seoStage rewrites the draft for search performance and produces metadata.
type seoStage struct {
	base
}

func (s *seoStage) Execute(ctx context.Context, in Input) *run.StageResult {
	sr := s.begin()

	var draft run.DraftPayload
	if err := in.Outputs[Writer].Decode(run.KindDraft, &draft); err != nil {
		return s.fail(sr, err)
	}
	var kw run.KeywordsPayload
	if err := in.Outputs[TrendsKeywords].Decode(run.KindKeywords, &kw); err != nil {
		return s.fail(sr, err)
	}

	prompt := "Optimize the content below for search without changing its meaning or voice. " +
		"Work the target keywords in naturally.\n\n" +
		"Target keywords: " + strings.Join(kw.Keywords, ", ") + "\n" +
		instructionBlock(in) +
		"\n\nOutput lines \"META_TITLE:\", \"META_DESCRIPTION:\" and \"SLUG:\" first, " +
		"then a line \"---\", then the full optimized content.\n\nContent:\n" + draft.Content

	res, err := s.router.Generate(ctx, s.prompt(in, prompt))
	if err != nil {
		return s.fail(sr, err)
	}

	p := run.SEOPayload{Content: res.Text}
	if head, body, found := strings.Cut(res.Text, "\n---\n"); found {
		p.Content = strings.TrimSpace(body)
		for _, line := range bulletLines(head) {
			switch {
			case hasPrefixFold(line, "META_TITLE:"):
				p.MetaTitle = trimLabel(line, "META_TITLE:")
			case hasPrefixFold(line, "META_DESCRIPTION:"):
				p.MetaDescription = trimLabel(line, "META_DESCRIPTION:")
			case hasPrefixFold(line, "SLUG:"):
				p.Slug = trimLabel(line, "SLUG:")
			}
		}
	}

	payload, err := run.NewPayload(run.KindSEO, p)
	if err != nil {
		return s.fail(sr, err)
	}
	return s.finish(sr, payload, res)
}
