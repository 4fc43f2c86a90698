package stage

import (
	"context"

	"github.com/inkwellhq/inkwell/internal/run"
)

// trendsStage researches current trends and target keywords for the topic.
type trendsStage struct {
	base
}

func (s *trendsStage) Execute(ctx context.Context, in Input) *run.StageResult {
	sr := s.begin()

	prompt := "Research the topic below and produce two lists.\n\n" +
		briefBlock(in.Params) +
		contextBlock(in) +
		instructionBlock(in) +
		"\n\nFirst output a line starting with \"INTENT:\" naming the dominant search intent. " +
		"Then a \"KEYWORDS:\" section with one keyword phrase per line, " +
		"then a \"TRENDS:\" section with one current trend per line."

	res, err := s.router.Generate(ctx, s.prompt(in, prompt))
	if err != nil {
		return s.fail(sr, err)
	}

	p := run.KeywordsPayload{Raw: res.Text}
	section := ""
	for _, line := range bulletLines(res.Text) {
		switch {
		case hasPrefixFold(line, "INTENT:"):
			p.SearchIntent = trimLabel(line, "INTENT:")
		case hasPrefixFold(line, "KEYWORDS:"):
			section = "keywords"
		case hasPrefixFold(line, "TRENDS:"):
			section = "trends"
		case section == "keywords":
			p.Keywords = append(p.Keywords, line)
		case section == "trends":
			p.Trends = append(p.Trends, line)
		}
	}

	payload, err := run.NewPayload(run.KindKeywords, p)
	if err != nil {
		return s.fail(sr, err)
	}
	return s.finish(sr, payload, res)
}
