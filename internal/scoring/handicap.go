package scoring

import (
	"time"

	"versus-quiz-service/internal/domain"
)

const (
	lightweightBaseHandicap = 10 * time.Second
	premiumBaseHandicap     = 15 * time.Second
)

// Handicap is the head start the human gets before the opponent may begin answering.
func Handicap(difficulty domain.Difficulty, mode domain.GameMode) time.Duration {
	base := lightweightBaseHandicap
	if mode == domain.ModePremium {
		base = premiumBaseHandicap
	}
	return base * time.Duration(difficultyPerMille(difficulty)) / 1000
}

func difficultyPerMille(d domain.Difficulty) int64 {
	switch d {
	case domain.DifficultyEasy:
		return 800
	case domain.DifficultyHard:
		return 1200
	default:
		return 1000
	}
}
