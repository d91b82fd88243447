package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// AnswerKind names an answer shape.
type AnswerKind string

const (
	KindMultipleChoice AnswerKind = "multiple_choice"
	KindInteger        AnswerKind = "integer"
	KindFreeText       AnswerKind = "free_text"
)

// Answer is a closed sum over the supported answer shapes.
type Answer interface {
	Kind() AnswerKind
	isAnswer()
}

type MultipleChoiceAnswer struct {
	ChoiceIndex int
}

type IntegerAnswer struct {
	Value int
}

type FreeTextAnswer struct {
	Text string
}

func (MultipleChoiceAnswer) Kind() AnswerKind { return KindMultipleChoice }
func (IntegerAnswer) Kind() AnswerKind        { return KindInteger }
func (FreeTextAnswer) Kind() AnswerKind       { return KindFreeText }

func (MultipleChoiceAnswer) isAnswer() {}
func (IntegerAnswer) isAnswer()        {}
func (FreeTextAnswer) isAnswer()       {}

// VerifierSpec is a closed sum describing how a question is checked.
type VerifierSpec interface {
	isVerifierSpec()
}

type MultipleChoiceSpec struct {
	CorrectIndex int
}

// IntegerRangeSpec requires equality with CorrectValue and membership in [Min, Max].
type IntegerRangeSpec struct {
	CorrectValue int
	Min          int
	Max          int
}

type FreeResponseSpec struct {
	Rubric   string
	Keywords []string
}

func (MultipleChoiceSpec) isVerifierSpec() {}
func (IntegerRangeSpec) isVerifierSpec()   {}
func (FreeResponseSpec) isVerifierSpec()   {}

// AnswerDTO is the wire form of an Answer for JSON and YAML.
type AnswerDTO struct {
	Type        AnswerKind `json:"type" yaml:"type"`
	ChoiceIndex *int       `json:"choiceIndex,omitempty" yaml:"choiceIndex,omitempty"`
	Value       *int       `json:"value,omitempty" yaml:"value,omitempty"`
	Text        *string    `json:"text,omitempty" yaml:"text,omitempty"`
}

// EncodeAnswer converts an Answer to its wire form. A nil answer encodes to nil.
func EncodeAnswer(a Answer) *AnswerDTO {
	switch v := a.(type) {
	case MultipleChoiceAnswer:
		idx := v.ChoiceIndex
		return &AnswerDTO{Type: KindMultipleChoice, ChoiceIndex: &idx}
	case IntegerAnswer:
		val := v.Value
		return &AnswerDTO{Type: KindInteger, Value: &val}
	case FreeTextAnswer:
		text := v.Text
		return &AnswerDTO{Type: KindFreeText, Text: &text}
	default:
		return nil
	}
}

// Decode validates the wire form and returns the Answer.
func (d AnswerDTO) Decode() (Answer, error) {
	switch d.Type {
	case KindMultipleChoice:
		if d.ChoiceIndex == nil {
			return nil, fmt.Errorf("%w: choiceIndex required", ErrMalformedAnswer)
		}
		return MultipleChoiceAnswer{ChoiceIndex: *d.ChoiceIndex}, nil
	case KindInteger:
		if d.Value == nil {
			return nil, fmt.Errorf("%w: value required", ErrMalformedAnswer)
		}
		return IntegerAnswer{Value: *d.Value}, nil
	case KindFreeText:
		if d.Text == nil {
			return nil, fmt.Errorf("%w: text required", ErrMalformedAnswer)
		}
		return FreeTextAnswer{Text: *d.Text}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedAnswer, d.Type)
	}
}

type verifierDTO struct {
	Type         string   `json:"type"`
	CorrectIndex *int     `json:"correctIndex,omitempty"`
	CorrectValue *int     `json:"correctValue,omitempty"`
	Min          *int     `json:"min,omitempty"`
	Max          *int     `json:"max,omitempty"`
	Rubric       string   `json:"rubric,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
}

type questionJSON struct {
	ID         string      `json:"id"`
	Prompt     string      `json:"prompt"`
	Choices    []string    `json:"choices,omitempty"`
	Difficulty Difficulty  `json:"difficulty"`
	Verifier   verifierDTO `json:"verifier"`
}

func (q Question) MarshalJSON() ([]byte, error) {
	out := questionJSON{ID: q.ID, Prompt: q.Prompt, Choices: q.Choices, Difficulty: q.Difficulty}
	switch v := q.Verifier.(type) {
	case MultipleChoiceSpec:
		idx := v.CorrectIndex
		out.Verifier = verifierDTO{Type: "multiple_choice", CorrectIndex: &idx}
	case IntegerRangeSpec:
		val, lo, hi := v.CorrectValue, v.Min, v.Max
		out.Verifier = verifierDTO{Type: "integer_range", CorrectValue: &val, Min: &lo, Max: &hi}
	case FreeResponseSpec:
		out.Verifier = verifierDTO{Type: "free_response", Rubric: v.Rubric, Keywords: v.Keywords}
	default:
		return nil, fmt.Errorf("question %s: missing verifier", q.ID)
	}
	return json.Marshal(out)
}

func (q *Question) UnmarshalJSON(data []byte) error {
	var in questionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	q.ID, q.Prompt, q.Choices, q.Difficulty = in.ID, in.Prompt, in.Choices, in.Difficulty
	switch in.Verifier.Type {
	case "multiple_choice":
		if in.Verifier.CorrectIndex == nil {
			return fmt.Errorf("question %s: correctIndex required", in.ID)
		}
		q.Verifier = MultipleChoiceSpec{CorrectIndex: *in.Verifier.CorrectIndex}
	case "integer_range":
		if in.Verifier.CorrectValue == nil {
			return fmt.Errorf("question %s: correctValue required", in.ID)
		}
		spec := IntegerRangeSpec{CorrectValue: *in.Verifier.CorrectValue, Min: math.MinInt, Max: math.MaxInt}
		if in.Verifier.Min != nil {
			spec.Min = *in.Verifier.Min
		}
		if in.Verifier.Max != nil {
			spec.Max = *in.Verifier.Max
		}
		q.Verifier = spec
	case "free_response":
		q.Verifier = FreeResponseSpec{Rubric: in.Verifier.Rubric, Keywords: in.Verifier.Keywords}
	default:
		return fmt.Errorf("question %s: unknown verifier type %q", in.ID, in.Verifier.Type)
	}
	return nil
}
