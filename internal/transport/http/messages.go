package http

import (
	"encoding/json"
	"errors"
	"time"

	"versus-quiz-service/internal/domain"
)

// sessionClosedType is the last message on a connection whose session has ended.
const sessionClosedType = "session_closed"

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startRoundPayload struct {
	QuestionID string `json:"questionId"`
}

type answerPayload struct {
	RoundID      string           `json:"roundId"`
	Answer       domain.AnswerDTO `json:"answer"`
	ClientSentAt *time.Time       `json:"clientSentAt,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string                       `json:"code"`
	Message string                       `json:"message"`
	Binding *domain.ActiveSessionBinding `json:"binding,omitempty"`
}

type joinedPayload struct {
	domain.ActiveSessionBinding
	Resumed bool `json:"resumed"`
}

type roundRefPayload struct {
	RoundID string      `json:"roundId"`
	Side    domain.Side `json:"side,omitempty"`
}

type streamPayload struct {
	RoundID       string            `json:"roundId"`
	Seq           int64             `json:"seq"`
	Kind          string            `json:"kind"`
	Text          string            `json:"text,omitempty"`
	EmittedTokens int               `json:"emittedTokens,omitempty"`
	TotalTokens   int               `json:"totalTokens,omitempty"`
	DroppedChars  int               `json:"droppedChars,omitempty"`
	Answer        *domain.AnswerDTO `json:"answer,omitempty"`
	Message       string            `json:"message,omitempty"`
}

type scorePayload struct {
	Correctness float64 `json:"correctness"`
	SpeedBonus  float64 `json:"speedBonus"`
	Penalty     float64 `json:"penalty"`
	Total       float64 `json:"total"`
}

type outcomePayload struct {
	Correct    bool         `json:"correct"`
	ResponseMs int64        `json:"responseMs"`
	Score      scorePayload `json:"score"`
}

type resultPayload struct {
	RoundID       string            `json:"roundId"`
	Winner        domain.Winner     `json:"winner"`
	Reason        string            `json:"reason"`
	CorrectAnswer *domain.AnswerDTO `json:"correctAnswer,omitempty"`
	Human         outcomePayload    `json:"human"`
	LLM           outcomePayload    `json:"llm"`
}

func errorMessage(err error) outboundMessage[any] {
	payload := errorPayload{Code: errorCode(err), Message: err.Error()}
	var active *domain.SessionActiveError
	if errors.As(err, &active) {
		b := active.Binding
		payload.Binding = &b
	}
	return outboundMessage[any]{Type: "error", Payload: payload}
}

var errorCodes = []struct {
	err  error
	code string
}{
	{domain.ErrRateLimited, "rate_limited"},
	{domain.ErrTooManySessions, "too_many_sessions"},
	{domain.ErrSessionNotFound, "session_not_found"},
	{domain.ErrNoActiveSession, "no_active_session"},
	{domain.ErrNotParticipant, "not_participant"},
	{domain.ErrSessionCompleted, "session_completed"},
	{domain.ErrQuestionNotFound, "question_not_found"},
	{domain.ErrRoundNotFound, "round_not_found"},
	{domain.ErrRoundInProgress, "round_in_progress"},
	{domain.ErrRoundNotInProgress, "round_not_in_progress"},
	{domain.ErrDeadlinePassed, "deadline_passed"},
	{domain.ErrDuplicateSubmission, "duplicate_submission"},
	{domain.ErrMalformedAnswer, "malformed_answer"},
	{domain.ErrOpponentNotFound, "opponent_not_found"},
	{domain.ErrNicknameBlank, "invalid_nickname"},
	{domain.ErrNicknameTooLong, "invalid_nickname"},
	{domain.ErrNicknameControlChars, "invalid_nickname"},
	{domain.ErrNicknameSpacing, "invalid_nickname"},
}

func errorCode(err error) string {
	var active *domain.SessionActiveError
	if errors.As(err, &active) {
		return "session_active"
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// toOutbound maps a session update to its wire message.
func toOutbound(u domain.RoundUpdate) outboundMessage[any] {
	msg := outboundMessage[any]{Type: string(u.Type)}
	switch u.Type {
	case domain.UpdateRoundStarted:
		msg.Payload = u.Round
	case domain.UpdateLlmStream:
		msg.Payload = streamMessage(u.RoundID, u.Stream)
	case domain.UpdateRoundResolved:
		msg.Payload = resultMessage(u.RoundID, u.Result)
	case domain.UpdateSessionCompleted:
		msg.Payload = u.Summary
	default:
		msg.Payload = roundRefPayload{RoundID: u.RoundID, Side: u.Side}
	}
	return msg
}

func streamMessage(roundID string, ev *domain.SequencedEvent) streamPayload {
	if ev == nil {
		return streamPayload{RoundID: roundID}
	}
	p := streamPayload{RoundID: roundID, Seq: ev.Seq}
	switch e := ev.Event.(type) {
	case domain.ReasoningDelta:
		p.Kind, p.Text, p.EmittedTokens, p.TotalTokens = "delta", e.Text, e.EmittedTokenCount, e.TotalTokenCount
	case domain.ReasoningTruncated:
		p.Kind, p.DroppedChars = "truncated", e.DroppedChars
	case domain.FinalAnswer:
		p.Kind, p.Answer = "final", domain.EncodeAnswer(e.Answer)
	case domain.StreamError:
		p.Kind, p.Message = "error", e.Message
	}
	return p
}

func resultMessage(roundID string, res *domain.RoundResult) resultPayload {
	if res == nil {
		return resultPayload{RoundID: roundID}
	}
	return resultPayload{
		RoundID:       roundID,
		Winner:        res.Winner,
		Reason:        string(res.Reason),
		CorrectAnswer: domain.EncodeAnswer(res.CorrectAnswer),
		Human:         outcomeMessage(res.Human),
		LLM:           outcomeMessage(res.LLM),
	}
}

func outcomeMessage(o domain.PlayerOutcome) outcomePayload {
	return outcomePayload{
		Correct:    o.Correct,
		ResponseMs: o.ResponseTime.Milliseconds(),
		Score: scorePayload{
			Correctness: o.Score.CorrectnessPoints,
			SpeedBonus:  o.Score.SpeedBonus,
			Penalty:     o.Score.Penalty,
			Total:       o.Score.Total(),
		},
	}
}
