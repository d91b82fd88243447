package opponent

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"versus-quiz-service/internal/domain"
)

const finalAnswerMarker = "FINAL ANSWER:"

// ErrUnparsableAnswer is returned when model output holds no usable answer.
var ErrUnparsableAnswer = errors.New("model output has no usable answer")

var (
	integerPattern = regexp.MustCompile(`-?\d+`)
	// A standalone capital letter, as in "The answer is B" or "B) Mars".
	choicePattern = regexp.MustCompile(`\b[A-Z]\b`)
	// A lone letter of either case, as in "(c)" or "b.".
	bareChoicePattern = regexp.MustCompile(`^\(?([A-Za-z])[).:]?$`)
)

// ParseFinalAnswer extracts the answer from the last "FINAL ANSWER:" line of
// model output, falling back to the last non-blank line.
func ParseFinalAnswer(output string, kind domain.AnswerKind, numChoices int) (domain.Answer, error) {
	raw := strings.Trim(finalLine(output), " \t*_`\"'")
	if raw == "" {
		return nil, ErrUnparsableAnswer
	}

	switch kind {
	case domain.KindMultipleChoice:
		letter := ""
		if m := bareChoicePattern.FindStringSubmatch(raw); m != nil {
			letter = strings.ToUpper(m[1])
		} else if all := choicePattern.FindAllString(raw, -1); len(all) > 0 {
			letter = all[len(all)-1]
		}
		if letter == "" {
			return nil, fmt.Errorf("%w: no choice letter in %q", ErrUnparsableAnswer, raw)
		}
		idx := int(letter[0] - 'A')
		if idx >= numChoices {
			return nil, fmt.Errorf("%w: choice %q out of range", ErrUnparsableAnswer, letter)
		}
		return domain.MultipleChoiceAnswer{ChoiceIndex: idx}, nil
	case domain.KindInteger:
		m := integerPattern.FindString(strings.ReplaceAll(raw, ",", ""))
		if m == "" {
			return nil, fmt.Errorf("%w: no integer in %q", ErrUnparsableAnswer, raw)
		}
		v, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparsableAnswer, err)
		}
		return domain.IntegerAnswer{Value: v}, nil
	default:
		return domain.FreeTextAnswer{Text: raw}, nil
	}
}

func finalLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		upper := strings.ToUpper(lines[i])
		if idx := strings.LastIndex(upper, finalAnswerMarker); idx >= 0 {
			return strings.TrimSpace(lines[i][idx+len(finalAnswerMarker):])
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func instructions(kind domain.AnswerKind) string {
	var format string
	switch kind {
	case domain.KindMultipleChoice:
		format = "the letter of the correct choice"
	case domain.KindInteger:
		format = "a single whole number"
	default:
		format = "a short phrase"
	}
	return "You are competing against a human in a timed trivia round. Reason briefly, " +
		"then finish with one line of the form '" + finalAnswerMarker + " <answer>' where <answer> is " + format + "."
}

func userPrompt(rc domain.RoundContext) string {
	var b strings.Builder
	b.WriteString(rc.Prompt)
	for i, choice := range rc.Choices {
		fmt.Fprintf(&b, "\n%c) %s", 'A'+i, choice)
	}
	return b.String()
}
