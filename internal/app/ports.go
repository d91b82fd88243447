package app

import (
	"context"

	"versus-quiz-service/internal/domain"
	"versus-quiz-service/internal/stream"
)

// SessionRepository abstracts where live match sessions are kept (in-memory, Redis-marked, etc).
type SessionRepository interface {
	Save(session *Session)
	Get(sessionID string) (*Session, bool)
	Delete(sessionID string)
	List() []*Session
}

// QuestionRepository loads question content (from cache/backing store).
type QuestionRepository interface {
	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// Opponent produces the model side's answer for a round.
type Opponent interface {
	// StreamAnswer emits paced events ending in exactly one terminal event,
	// unless ctx is cancelled first.
	StreamAnswer(ctx context.Context, rc domain.RoundContext, out stream.Emitter) error
	GetAnswer(ctx context.Context, rc domain.RoundContext) (domain.Answer, error)
}

// OpponentResolver maps opponent spec ids to adapters.
type OpponentResolver interface {
	Resolve(ctx context.Context, specID string) (Opponent, domain.OpponentSpec, error)
	Specs() []domain.OpponentSpec
}

// ActiveSessionRegistry holds at most one binding per player.
type ActiveSessionRegistry interface {
	Get(ctx context.Context, playerID string) (domain.ActiveSessionBinding, bool, error)
	// GetOrReserve returns the existing binding, or stores and returns candidate.
	GetOrReserve(ctx context.Context, playerID string, candidate domain.ActiveSessionBinding) (domain.ActiveSessionBinding, error)
	// Clear removes the binding only if it still points at sessionID.
	Clear(ctx context.Context, playerID, sessionID string) error
	// TakeByOwner removes and returns the binding.
	TakeByOwner(ctx context.Context, playerID string) (domain.ActiveSessionBinding, bool, error)
}

// ResultRepository stores finished rounds and sessions.
type ResultRepository interface {
	SaveRound(ctx context.Context, record domain.RoundRecord) error
	SaveSession(ctx context.Context, result domain.SessionResult) error
	Leaderboard(ctx context.Context, mode domain.GameMode, limit int) ([]domain.LeaderboardEntry, error)
}

// Notifier delivers lifecycle events on a best-effort basis.
type Notifier interface {
	Notify(ctx context.Context, event domain.LifecycleEvent) error
}

// Guard admits or rejects one event for a scope key.
type Guard interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// AdmissionRule binds a guard to a scope. PerPlayer rules append the player id to Name.
type AdmissionRule struct {
	Name      string
	PerPlayer bool
	Guard     Guard
}

// SlotLimiter caps concurrently live sessions per mode.
type SlotLimiter interface {
	TryAcquire(mode domain.GameMode) bool
	Release(mode domain.GameMode)
}
