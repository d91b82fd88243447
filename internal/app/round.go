package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"versus-quiz-service/internal/domain"
	"versus-quiz-service/internal/scoring"
	"versus-quiz-service/internal/stream"
)

// Round runs one question-answer cycle. Submission slots and the result are
// only touched under mu, so resolution happens exactly once.
type Round struct {
	sessionID string
	humanID   string
	llmID     string
	clock     clockwork.Clock
	publish   func(domain.RoundUpdate)
	onResolve func(*Round, domain.RoundResult)
	done      chan struct{}

	mu           sync.Mutex
	state        domain.Round
	cancel       context.CancelFunc
	pendingFinal *domain.SequencedEvent
}

// RoundParams configures a new round.
type RoundParams struct {
	ID        string
	SessionID string
	HumanID   string
	LLMID     string
	Question  domain.Question
	Mode      domain.GameMode
	Duration  time.Duration
	Clock     clockwork.Clock
	// Publish receives updates while the round lock is held; it must not block.
	Publish func(domain.RoundUpdate)
	// OnResolve runs once, outside the round lock, on the goroutine that resolved the round.
	OnResolve func(*Round, domain.RoundResult)
}

// NewRound releases a round now. A non-positive duration is a programming error.
func NewRound(p RoundParams) *Round {
	if p.Duration <= 0 {
		panic(fmt.Sprintf("round duration must be positive, got %v", p.Duration))
	}
	if p.Clock == nil {
		p.Clock = clockwork.NewRealClock()
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := p.Clock.Now()
	return &Round{
		sessionID: p.SessionID,
		humanID:   p.HumanID,
		llmID:     p.LLMID,
		clock:     p.Clock,
		publish:   p.Publish,
		onResolve: p.OnResolve,
		done:      make(chan struct{}),
		state: domain.Round{
			ID:         p.ID,
			Question:   p.Question,
			ReleasedAt: now,
			Handicap:   scoring.Handicap(p.Question.Difficulty, p.Mode),
			Deadline:   now.Add(p.Duration),
		},
	}
}

func (r *Round) ID() string {
	return r.state.ID
}

// Snapshot returns a copy of the round state.
func (r *Round) Snapshot() domain.Round {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	if s.Human != nil {
		h := *s.Human
		s.Human = &h
	}
	if s.LLM != nil {
		l := *s.LLM
		s.LLM = &l
	}
	if s.Result != nil {
		res := *s.Result
		s.Result = &res
	}
	return s
}

// Done is closed when the round resolves.
func (r *Round) Done() <-chan struct{} {
	return r.done
}

// Result returns the result once resolved.
func (r *Round) Result() (domain.RoundResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Result == nil {
		return domain.RoundResult{}, false
	}
	return *r.state.Result, true
}

// Wait blocks until the round resolves. Every caller observes the same result.
func (r *Round) Wait(ctx context.Context) (domain.RoundResult, error) {
	select {
	case <-r.done:
		res, _ := r.Result()
		return res, nil
	case <-ctx.Done():
		return domain.RoundResult{}, ctx.Err()
	}
}

// Submit records one side's answer. It resolves the round when both sides are in.
func (r *Round) Submit(side domain.Side, answer domain.Answer, clientSentAt *time.Time) error {
	r.mu.Lock()
	result, err := r.acceptLocked(side, answer, clientSentAt, r.clock.Now())
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if result != nil {
		r.finish(*result)
	}
	return nil
}

// Start launches the deadline watcher and, when opp is set, the opponent task.
// Both timers are armed before Start returns.
func (r *Round) Start(ctx context.Context, opp Opponent, rc domain.RoundContext) {
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.cancel = cancel
	now := r.clock.Now()
	deadline := r.clock.NewTimer(r.state.Deadline.Sub(now))
	var handicap clockwork.Timer
	if opp != nil {
		handicap = r.clock.NewTimer(r.state.Handicap)
	}
	if r.state.Result != nil {
		cancel()
	}
	r.mu.Unlock()

	go r.watchDeadline(ctx, deadline)
	if opp != nil {
		go r.runOpponent(ctx, handicap, opp, rc)
	}
}

// abort stops the round's tasks without resolving it.
func (r *Round) abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Round) watchDeadline(ctx context.Context, timer clockwork.Timer) {
	select {
	case <-timer.Chan():
	case <-ctx.Done():
		timer.Stop()
		return
	}

	r.mu.Lock()
	if r.state.Result != nil {
		r.mu.Unlock()
		return
	}
	result := r.resolveLocked()
	r.mu.Unlock()
	r.finish(result)
}

func (r *Round) runOpponent(ctx context.Context, handicap clockwork.Timer, opp Opponent, rc domain.RoundContext) {
	select {
	case <-handicap.Chan():
	case <-ctx.Done():
		handicap.Stop()
		return
	}

	r.mu.Lock()
	if r.state.Result != nil {
		r.mu.Unlock()
		return
	}
	r.emitLocked(domain.RoundUpdate{Type: domain.UpdateLlmThinking, Side: domain.SideLLM})
	r.mu.Unlock()

	seq := stream.NewSequencer(stream.SinkFunc(r.deliver))
	err := opp.StreamAnswer(ctx, rc, seq)
	if ctx.Err() != nil {
		// Cancelled streams never deliver a terminal event.
		return
	}
	if err != nil && !errors.Is(err, domain.ErrRoundNotInProgress) && !errors.Is(err, domain.ErrDeadlinePassed) {
		log.Warn().Err(err).Str("round_id", r.state.ID).Str("opponent", rc.Spec.ID).Msg("opponent stream failed")
	}
	if !seq.Closed() {
		msg := "opponent returned without an answer"
		if err != nil {
			msg = err.Error()
		}
		_ = seq.Emit(ctx, domain.StreamError{Message: msg, Cause: err})
	}
}

// deliver is the opponent stream sink. Events for a resolved round are refused,
// and a final answer that cannot be accepted is never published.
func (r *Round) deliver(_ context.Context, ev domain.SequencedEvent) error {
	r.mu.Lock()
	if r.state.Result != nil {
		r.mu.Unlock()
		return domain.ErrRoundNotInProgress
	}

	var result *domain.RoundResult
	switch e := ev.Event.(type) {
	case domain.FinalAnswer:
		now := r.clock.Now()
		if err := r.checkLocked(domain.SideLLM, now); err != nil {
			r.mu.Unlock()
			log.Debug().Err(err).Str("round_id", r.state.ID).Msg("opponent answer not accepted")
			return err
		}
		if r.state.Human == nil {
			// Hold the answer until the human commits.
			held := ev
			r.pendingFinal = &held
			r.emitLocked(domain.RoundUpdate{Type: domain.UpdateLlmAnswerLocked, Side: domain.SideLLM})
		} else {
			r.emitStreamLocked(ev)
		}
		// Cannot fail: checkLocked passed under the same lock at the same instant.
		result, _ = r.acceptLocked(domain.SideLLM, e.Answer, nil, now)
	case domain.StreamError:
		r.emitStreamLocked(ev)
		log.Warn().Str("round_id", r.state.ID).Str("message", e.Message).Msg("opponent did not answer")
	case domain.ReasoningDelta, domain.ReasoningTruncated:
		r.emitStreamLocked(ev)
	}
	r.mu.Unlock()

	if result != nil {
		r.finish(*result)
	}
	return nil
}

// checkLocked reports whether side may still submit at now.
func (r *Round) checkLocked(side domain.Side, now time.Time) error {
	if r.state.Result != nil {
		return domain.ErrRoundNotInProgress
	}
	if !now.Before(r.state.Deadline) {
		return domain.ErrDeadlinePassed
	}
	var slot *domain.Submission
	switch side {
	case domain.SideHuman:
		slot = r.state.Human
	case domain.SideLLM:
		slot = r.state.LLM
	default:
		return fmt.Errorf("unknown side %q", side)
	}
	if slot != nil {
		return domain.ErrDuplicateSubmission
	}
	return nil
}

func (r *Round) acceptLocked(side domain.Side, answer domain.Answer, clientSentAt *time.Time, now time.Time) (*domain.RoundResult, error) {
	if err := r.checkLocked(side, now); err != nil {
		return nil, err
	}

	slot, playerID := &r.state.Human, r.humanID
	if side == domain.SideLLM {
		slot, playerID = &r.state.LLM, r.llmID
	}
	*slot = &domain.Submission{
		ID:               uuid.NewString(),
		PlayerID:         playerID,
		Answer:           answer,
		ServerReceivedAt: now,
		ClientSentAt:     clientSentAt,
	}
	r.emitLocked(domain.RoundUpdate{Type: domain.UpdateSubmissionReceived, Side: side})

	if side == domain.SideHuman && r.pendingFinal != nil {
		r.emitStreamLocked(*r.pendingFinal)
		r.pendingFinal = nil
	}
	if r.state.HasAllSubmissions() {
		result := r.resolveLocked()
		return &result, nil
	}
	return nil, nil
}

func (r *Round) resolveLocked() domain.RoundResult {
	s := &r.state
	full := s.Deadline.Sub(s.ReleasedAt)
	result := scoring.Compute(scoring.Input{
		Handicap:      s.Handicap,
		Human:         r.outcomeLocked(s.Human, full),
		LLM:           r.outcomeLocked(s.LLM, full),
		CorrectAnswer: s.Question.CorrectAnswer(),
		Reason:        domain.ResolveReasonFor(s.Human != nil, s.LLM != nil),
	})
	s.Result = &result
	close(r.done)
	if r.cancel != nil {
		r.cancel()
	}

	if r.pendingFinal != nil {
		r.emitStreamLocked(*r.pendingFinal)
		r.pendingFinal = nil
	}
	published := result
	r.emitLocked(domain.RoundUpdate{Type: domain.UpdateRoundResolved, Result: &published})
	log.Info().
		Str("session_id", r.sessionID).
		Str("round_id", s.ID).
		Str("winner", string(result.Winner)).
		Str("reason", string(result.Reason)).
		Msg("round resolved")
	return result
}

func (r *Round) outcomeLocked(sub *domain.Submission, full time.Duration) scoring.Outcome {
	if sub == nil {
		return scoring.Outcome{ResponseTime: full}
	}
	return scoring.Outcome{
		Correct:      scoring.Verify(r.state.Question, sub.Answer),
		ResponseTime: sub.ResponseTime(r.state.ReleasedAt),
	}
}

func (r *Round) finish(result domain.RoundResult) {
	if r.onResolve != nil {
		r.onResolve(r, result)
	}
}

func (r *Round) emitStreamLocked(ev domain.SequencedEvent) {
	r.emitLocked(domain.RoundUpdate{Type: domain.UpdateLlmStream, Side: domain.SideLLM, Stream: &ev})
}

func (r *Round) emitLocked(u domain.RoundUpdate) {
	if r.publish == nil {
		return
	}
	u.SessionID = r.sessionID
	u.RoundID = r.state.ID
	u.At = r.clock.Now()
	r.publish(u)
}
