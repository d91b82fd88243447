package scoring

import (
	"math"
	"time"

	"versus-quiz-service/internal/domain"
)

const (
	// CorrectAnswerPoints is awarded for any correct answer.
	CorrectAnswerPoints = 100.0
	// MaxSpeedBonus caps the bonus for answering fast.
	MaxSpeedBonus = 50.0

	minBonusWindow = 30 * time.Second
)

// Outcome is one side's input to Compute.
type Outcome struct {
	Correct      bool
	ResponseTime time.Duration
}

// Input carries everything Compute needs about a resolved round.
type Input struct {
	Handicap      time.Duration
	Human         Outcome
	LLM           Outcome
	CorrectAnswer domain.Answer
	Reason        domain.RoundResolveReason
}

// Compute scores both sides and picks the winner.
func Compute(in Input) domain.RoundResult {
	return domain.RoundResult{
		CorrectAnswer: in.CorrectAnswer,
		Human:         outcome(in.Human, in.Handicap),
		LLM:           outcome(in.LLM, in.Handicap),
		Winner:        DetermineWinner(in.Human, in.LLM),
		Reason:        in.Reason,
	}
}

func outcome(o Outcome, handicap time.Duration) domain.PlayerOutcome {
	score := domain.Score{}
	if o.Correct {
		score.CorrectnessPoints = CorrectAnswerPoints
		score.SpeedBonus = SpeedBonus(o.ResponseTime, handicap)
	}
	return domain.PlayerOutcome{Correct: o.Correct, ResponseTime: o.ResponseTime, Score: score}
}

// SpeedBonus scales linearly from MaxSpeedBonus at zero to nothing at max(handicap, 30s).
func SpeedBonus(responseTime, handicap time.Duration) float64 {
	maxTime := handicap
	if maxTime < minBonusWindow {
		maxTime = minBonusWindow
	}
	fraction := 1 - float64(responseTime.Milliseconds())/float64(maxTime.Milliseconds())
	fraction = math.Max(0, math.Min(1, fraction))
	return MaxSpeedBonus * fraction
}

// DetermineWinner orders by correctness, then by response time.
func DetermineWinner(human, llm Outcome) domain.Winner {
	switch {
	case human.Correct && !llm.Correct:
		return domain.WinnerHuman
	case llm.Correct && !human.Correct:
		return domain.WinnerLLM
	case !human.Correct && !llm.Correct:
		return domain.WinnerNone
	case human.ResponseTime < llm.ResponseTime:
		return domain.WinnerHuman
	case llm.ResponseTime < human.ResponseTime:
		return domain.WinnerLLM
	default:
		return domain.WinnerTie
	}
}

// MatchWinner compares session totals. No rounds played means no winner.
func MatchWinner(roundsPlayed int, humanTotal, llmTotal float64) domain.Winner {
	switch {
	case roundsPlayed == 0:
		return domain.WinnerNone
	case humanTotal > llmTotal:
		return domain.WinnerHuman
	case llmTotal > humanTotal:
		return domain.WinnerLLM
	default:
		return domain.WinnerTie
	}
}
