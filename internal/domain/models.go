package domain

import "time"

// Difficulty is the tier a question is authored at.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// GameMode selects how the opponent produces its answer.
type GameMode string

const (
	// ModeLightweight replays pre-recorded transcripts.
	ModeLightweight GameMode = "LIGHTWEIGHT"
	// ModePremium calls a live model.
	ModePremium GameMode = "PREMIUM"
)

// Side identifies one of the two parties in a round.
type Side string

const (
	SideHuman Side = "HUMAN"
	SideLLM   Side = "LLM"
)

// Winner of a round or a match.
type Winner string

const (
	WinnerHuman Winner = "HUMAN"
	WinnerLLM   Winner = "LLM"
	WinnerTie   Winner = "TIE"
	WinnerNone  Winner = "NONE"
)

// RoundResolveReason records which submissions existed when a round resolved.
type RoundResolveReason string

const (
	ReasonNormal        RoundResolveReason = "NORMAL"
	ReasonTimeoverBoth  RoundResolveReason = "TIMEOVER_BOTH"
	ReasonTimeoverLLM   RoundResolveReason = "TIMEOVER_LLM"
	ReasonTimeoverHuman RoundResolveReason = "TIMEOVER_HUMAN"
)

// ResolveReasonFor derives the resolve reason from the submitted sides.
func ResolveReasonFor(humanSubmitted, llmSubmitted bool) RoundResolveReason {
	switch {
	case humanSubmitted && llmSubmitted:
		return ReasonNormal
	case !humanSubmitted && !llmSubmitted:
		return ReasonTimeoverBoth
	case !humanSubmitted:
		return ReasonTimeoverHuman
	default:
		return ReasonTimeoverLLM
	}
}

// Question is immutable content released into a round.
type Question struct {
	ID         string
	Prompt     string
	Choices    []string // non-nil means multiple choice
	Difficulty Difficulty
	Verifier   VerifierSpec
}

// ExpectedKind reports the answer shape a question expects.
func (q Question) ExpectedKind() AnswerKind {
	if q.Choices != nil {
		return KindMultipleChoice
	}
	if _, ok := q.Verifier.(IntegerRangeSpec); ok {
		return KindInteger
	}
	return KindFreeText
}

// CorrectAnswer returns the canonical answer revealed at resolution.
func (q Question) CorrectAnswer() Answer {
	switch v := q.Verifier.(type) {
	case MultipleChoiceSpec:
		return MultipleChoiceAnswer{ChoiceIndex: v.CorrectIndex}
	case IntegerRangeSpec:
		return IntegerAnswer{Value: v.CorrectValue}
	case FreeResponseSpec:
		text := v.Rubric
		if text == "" && len(v.Keywords) > 0 {
			text = v.Keywords[0]
		}
		return FreeTextAnswer{Text: text}
	default:
		return nil
	}
}

// Submission is one side's accepted answer.
type Submission struct {
	ID               string
	PlayerID         string
	Answer           Answer
	ServerReceivedAt time.Time
	// ClientSentAt is advisory only and never used for scoring.
	ClientSentAt *time.Time
}

// ResponseTime is measured from the round release on the server clock.
func (s Submission) ResponseTime(releasedAt time.Time) time.Duration {
	return s.ServerReceivedAt.Sub(releasedAt)
}

// Round is the state of one question-answer cycle.
type Round struct {
	ID         string
	Question   Question
	ReleasedAt time.Time
	Handicap   time.Duration
	Deadline   time.Time
	Human      *Submission
	LLM        *Submission
	Result     *RoundResult
}

// IsInProgress reports whether the round is still unresolved.
func (r Round) IsInProgress() bool {
	return r.Result == nil
}

// HasAllSubmissions reports whether both sides have submitted.
func (r Round) HasAllSubmissions() bool {
	return r.Human != nil && r.LLM != nil
}

// Score is the per-player breakdown for one round.
type Score struct {
	CorrectnessPoints float64 `json:"correctnessPoints"`
	SpeedBonus        float64 `json:"speedBonus"`
	Penalty           float64 `json:"penalty"`
}

// Total is correctness plus bonus minus penalty.
func (s Score) Total() float64 {
	return s.CorrectnessPoints + s.SpeedBonus - s.Penalty
}

// PlayerOutcome is one side's verified result.
type PlayerOutcome struct {
	Correct      bool
	ResponseTime time.Duration
	Score        Score
}

// RoundResult is created exactly once, at resolution.
type RoundResult struct {
	CorrectAnswer Answer
	Human         PlayerOutcome
	LLM           PlayerOutcome
	Winner        Winner
	Reason        RoundResolveReason
}

// ActiveSessionBinding asserts that a player owns one in-progress session.
type ActiveSessionBinding struct {
	SessionID      string    `json:"sessionId"`
	OpponentSpecID string    `json:"opponentSpecId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// LlmTranscript is a pre-recorded opponent answer.
type LlmTranscript struct {
	QuestionID             string
	ProfileName            string
	Reasoning              string
	FinalAnswer            Answer
	AverageTokensPerSecond float64
	ChunkSizeTokens        int
}

// StreamingPolicy governs how opponent output is paced to the player.
type StreamingPolicy struct {
	RevealDelay            time.Duration
	TargetTokensPerSecond  int
	BurstMultiplierOnFinal float64
	MaxBufferedChars       int
}

// DefaultStreamingPolicy is used when an opponent spec leaves pacing unset.
func DefaultStreamingPolicy() StreamingPolicy {
	return StreamingPolicy{
		BurstMultiplierOnFinal: 1,
		MaxBufferedChars:       200_000,
	}
}

// ProviderConfig points a live opponent at an OpenAI-compatible endpoint.
type ProviderConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
}

// OpponentSpec describes a selectable opponent.
type OpponentSpec struct {
	ID          string
	Mode        GameMode
	DisplayName string
	// ProfileName keys transcripts for replay opponents.
	ProfileName string
	Streaming   StreamingPolicy
	Provider    *ProviderConfig
}

// RoundContext is what an opponent sees of a round.
type RoundContext struct {
	RoundID      string
	QuestionID   string
	Prompt       string
	Choices      []string
	ExpectedKind AnswerKind
	Spec         OpponentSpec
}

// NewRoundContext builds the opponent view of a question.
func NewRoundContext(roundID string, q Question, spec OpponentSpec) RoundContext {
	return RoundContext{
		RoundID:      roundID,
		QuestionID:   q.ID,
		Prompt:       q.Prompt,
		Choices:      q.Choices,
		ExpectedKind: q.ExpectedKind(),
		Spec:         spec,
	}
}
