package classify

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/leadswipe/leadswipe-api/engine/domain"
)

// MinTextLength is the shortest post body, in runes, worth sending to the
// model.
const MinTextLength = 20

// rawPreviewLen bounds how much of an unparseable reply ends up in the reason.
const rawPreviewLen = 100

// verdict mirrors the JSON object the system prompt asks the model for.
// Pointers distinguish absent fields from zero values.
type verdict struct {
	IsOpportunity       *bool    `json:"is_opportunity"`
	OpportunityType     *string  `json:"opportunity_type"`
	Confidence          *float64 `json:"confidence"`
	Category            *string  `json:"category"`
	ShortTitle          *string  `json:"short_title"`
	Summary             *string  `json:"summary"`
	AutomationPotential *string  `json:"automation_potential"`
	Reason              *string  `json:"reason"`
}

// Validate turns a raw model reply into a ClassificationResult. It never
// fails: replies that cannot be parsed, or that lack is_opportunity, yield a
// non-opportunity with zero confidence whose reason quotes the reply.
func Validate(raw string) domain.ClassificationResult {
	res, _ := parse(raw)
	return res
}

// parse is Validate that also reports why a reply was rejected.
func parse(raw string) (domain.ClassificationResult, error) {
	var v verdict
	if err := json.Unmarshal([]byte(stripFences(raw)), &v); err != nil {
		return parseFailure(raw), fmt.Errorf("%w: %v", domain.ErrClassificationParse, err)
	}
	if v.IsOpportunity == nil {
		return parseFailure(raw), fmt.Errorf("%w: missing is_opportunity", domain.ErrClassificationParse)
	}

	res := domain.ClassificationResult{
		IsOpportunity: *v.IsOpportunity,
		Type:          domain.OpportunityNone,
		Confidence:    clamp01(deref(v.Confidence)),
		Category:      deref(v.Category),
		ShortTitle:    deref(v.ShortTitle),
		Summary:       deref(v.Summary),
		Reason:        deref(v.Reason),

		AutomationPotential: deref(v.AutomationPotential),
	}
	if res.IsOpportunity {
		res.Type = domain.ParseOpportunityType(deref(v.OpportunityType))
	}
	return res, nil
}

// Insufficient is the verdict for posts too short to classify.
func Insufficient() domain.ClassificationResult {
	return domain.ClassificationResult{
		IsOpportunity: false,
		Type:          domain.OpportunityNone,
		Confidence:    0,
		Summary:       "Post too short",
		Reason:        "Not enough content to analyze",
	}
}

// Failed is the verdict for posts whose classification call errored.
func Failed(err error) domain.ClassificationResult {
	return domain.ClassificationResult{
		IsOpportunity: false,
		Type:          domain.OpportunityNone,
		Confidence:    0,
		Summary:       "Analysis error",
		Reason:        err.Error(),
	}
}

// TooShort reports whether text, as posted, is below MinTextLength runes.
// Surrounding whitespace counts.
func TooShort(text string) bool {
	return utf8.RuneCountInString(text) < MinTextLength
}

func parseFailure(raw string) domain.ClassificationResult {
	return domain.ClassificationResult{
		IsOpportunity: false,
		Type:          domain.OpportunityNone,
		Confidence:    0,
		Summary:       "Analysis error",
		Reason:        fmt.Sprintf("invalid JSON: %s", clip(raw, rawPreviewLen)),
	}
}

// stripFences removes a surrounding ``` or ```json code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
