package domain

import "time"

// UpdateType names a push update sent to session subscribers.
type UpdateType string

const (
	UpdateRoundStarted       UpdateType = "round_started"
	UpdateLlmThinking        UpdateType = "llm_thinking"
	UpdateLlmStream          UpdateType = "llm_stream"
	UpdateLlmAnswerLocked    UpdateType = "llm_answer_locked"
	UpdateSubmissionReceived UpdateType = "submission_received"
	UpdateRoundResolved      UpdateType = "round_resolved"
	UpdateSessionCompleted   UpdateType = "session_completed"
)

// RoundView is the player-safe view of a released round.
type RoundView struct {
	RoundID      string     `json:"roundId"`
	QuestionID   string     `json:"questionId"`
	Prompt       string     `json:"prompt"`
	Choices      []string   `json:"choices,omitempty"`
	Difficulty   Difficulty `json:"difficulty"`
	ExpectedKind AnswerKind `json:"expectedKind"`
	ReleasedAt   time.Time  `json:"releasedAt"`
	Handicap     int64      `json:"handicapMs"`
	Deadline     time.Time  `json:"deadline"`
}

// ViewOf builds the player-safe view of a round.
func ViewOf(r Round) RoundView {
	return RoundView{
		RoundID:      r.ID,
		QuestionID:   r.Question.ID,
		Prompt:       r.Question.Prompt,
		Choices:      r.Question.Choices,
		Difficulty:   r.Question.Difficulty,
		ExpectedKind: r.Question.ExpectedKind(),
		ReleasedAt:   r.ReleasedAt,
		Handicap:     r.Handicap.Milliseconds(),
		Deadline:     r.Deadline,
	}
}

// SessionSummary totals a completed session.
type SessionSummary struct {
	HumanTotal   float64 `json:"humanTotal"`
	LLMTotal     float64 `json:"llmTotal"`
	RoundsPlayed int     `json:"roundsPlayed"`
	Winner       Winner  `json:"winner"`
}

// RoundUpdate is pushed to session subscribers. Only the fields relevant to Type are set.
type RoundUpdate struct {
	Type      UpdateType
	SessionID string
	RoundID   string
	Round     *RoundView
	Stream    *SequencedEvent
	Side      Side
	Result    *RoundResult
	Summary   *SessionSummary
	At        time.Time
}

// LifecycleType names a best-effort notification.
type LifecycleType string

const (
	LifecycleSessionStarted   LifecycleType = "session_started"
	LifecycleRoundResolved    LifecycleType = "round_resolved"
	LifecycleSessionCompleted LifecycleType = "session_completed"
)

// LifecycleEvent is delivered to notification sinks.
type LifecycleEvent struct {
	Type           LifecycleType `json:"type"`
	SessionID      string        `json:"sessionId"`
	PlayerID       string        `json:"playerId"`
	Nickname       string        `json:"nickname,omitempty"`
	Mode           GameMode      `json:"mode"`
	OpponentSpecID string        `json:"opponentSpecId"`
	RoundID        string        `json:"roundId,omitempty"`
	Winner         Winner        `json:"winner,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	HumanScore     float64       `json:"humanScore,omitempty"`
	LLMScore       float64       `json:"llmScore,omitempty"`
	RoundsPlayed   int           `json:"roundsPlayed,omitempty"`
	OccurredAt     time.Time     `json:"occurredAt"`
}

// RoundRecord is a resolved round as persisted.
type RoundRecord struct {
	SessionID  string
	RoundID    string
	QuestionID string
	PlayerID   string
	Result     RoundResult
	ResolvedAt time.Time
}

// SessionResult is a completed session as persisted.
type SessionResult struct {
	SessionID      string
	PlayerID       string
	Nickname       string
	Mode           GameMode
	OpponentSpecID string
	ProfileName    string
	HumanScore     float64
	LLMScore       float64
	Winner         Winner
	RoundsPlayed   int
	Duration       time.Duration
	CompletedAt    time.Time
}

// LeaderboardEntry is one ranked best result.
type LeaderboardEntry struct {
	Rank        int      `json:"rank"`
	PlayerID    string   `json:"playerId"`
	Nickname    string   `json:"nickname"`
	Mode        GameMode `json:"mode"`
	ProfileName string   `json:"profileName"`
	BestScore   float64  `json:"bestScore"`
	DurationMs  int64    `json:"durationMs"`
}
