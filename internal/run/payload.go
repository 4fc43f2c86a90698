package run

import (
	"encoding/json"
	"fmt"
)

// Payload kinds, one per stage.
const (
	KindKeywords    = "keywords"
	KindTone        = "tone"
	KindOutline     = "outline"
	KindDraft       = "draft"
	KindSEO         = "seo"
	KindOriginality = "originality"
	KindReview      = "review"
)

// Payload is the tagged envelope for stage-specific output. Kind names the
// concrete type stored in Data; Decode unpacks it.
type Payload struct {
	Kind string          `json:"kind,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewPayload wraps v in a tagged envelope.
func NewPayload(kind string, v interface{}) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Payload{Kind: kind, Data: data}, nil
}

// Decode unpacks the payload data into v after checking the kind tag.
func (p Payload) Decode(kind string, v interface{}) error {
	if p.Kind != kind {
		return fmt.Errorf("payload kind is %q, want %q", p.Kind, kind)
	}
	if err := json.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", kind, err)
	}
	return nil
}

// Empty reports whether the envelope carries no payload.
func (p Payload) Empty() bool {
	return p.Kind == "" && len(p.Data) == 0
}

// KeywordsPayload is the output of the trends_keywords stage.
type KeywordsPayload struct {
	Keywords     []string `json:"keywords"`
	Trends       []string `json:"trends,omitempty"`
	SearchIntent string   `json:"search_intent,omitempty"`
	Raw          string   `json:"raw,omitempty"`
}

// TonePayload is the output of the tone_of_voice stage.
type TonePayload struct {
	Voice      string   `json:"voice"`
	Guidelines []string `json:"guidelines,omitempty"`
	Raw        string   `json:"raw,omitempty"`
}

// OutlineSection is one heading in a structure outline.
type OutlineSection struct {
	Heading string `json:"heading"`
	Summary string `json:"summary,omitempty"`
}

// OutlinePayload is the output of the structure_outline stage.
type OutlinePayload struct {
	Title    string           `json:"title"`
	Sections []OutlineSection `json:"sections"`
	Raw      string           `json:"raw,omitempty"`
}

// DraftPayload is the output of the writer stage. QualityScore and
// ReviewFeedback come from the editor pass and feed the quality gate.
type DraftPayload struct {
	Content        string  `json:"content"`
	WordCount      int     `json:"word_count"`
	QualityScore   float64 `json:"quality_score"`
	ReviewFeedback string  `json:"review_feedback,omitempty"`
}

// SEOPayload is the output of the seo_optimizer stage.
type SEOPayload struct {
	Content         string `json:"content"`
	MetaTitle       string `json:"meta_title,omitempty"`
	MetaDescription string `json:"meta_description,omitempty"`
	Slug            string `json:"slug,omitempty"`
}

// OriginalityPayload is the output of the originality_check stage.
type OriginalityPayload struct {
	Content          string   `json:"content"`
	OriginalityScore float64  `json:"originality_score"`
	FlaggedPassages  []string `json:"flagged_passages,omitempty"`
}

// ReviewPayload is the output of the final_review stage.
type ReviewPayload struct {
	Content string `json:"content"`
	Summary string `json:"summary,omitempty"`
}
