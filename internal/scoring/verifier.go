package scoring

import (
	"strings"

	"versus-quiz-service/internal/domain"
)

// Verify reports whether answer is correct for q. A nil or mismatched answer is incorrect.
func Verify(q domain.Question, answer domain.Answer) bool {
	if answer == nil {
		return false
	}
	switch spec := q.Verifier.(type) {
	case domain.MultipleChoiceSpec:
		a, ok := answer.(domain.MultipleChoiceAnswer)
		return ok && a.ChoiceIndex == spec.CorrectIndex
	case domain.IntegerRangeSpec:
		// A correct value outside [Min, Max] can never verify.
		a, ok := answer.(domain.IntegerAnswer)
		return ok && a.Value >= spec.Min && a.Value <= spec.Max && a.Value == spec.CorrectValue
	case domain.FreeResponseSpec:
		a, ok := answer.(domain.FreeTextAnswer)
		if !ok {
			return false
		}
		text := strings.ToLower(strings.TrimSpace(a.Text))
		if len(spec.Keywords) == 0 {
			return text != ""
		}
		for _, kw := range spec.Keywords {
			if !strings.Contains(text, strings.ToLower(kw)) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
