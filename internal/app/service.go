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
)

// Settings tunes match behaviour. Zero values fall back to defaults.
type Settings struct {
	RoundDuration     time.Duration
	MaxRounds         int
	DetachGrace       time.Duration
	MaxLifespan       time.Duration
	BackgroundTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.RoundDuration <= 0 {
		s.RoundDuration = 30 * time.Second
	}
	if s.MaxRounds <= 0 {
		s.MaxRounds = 3
	}
	if s.DetachGrace <= 0 {
		s.DetachGrace = time.Minute
	}
	if s.MaxLifespan <= 0 {
		s.MaxLifespan = time.Hour
	}
	if s.BackgroundTimeout <= 0 {
		s.BackgroundTimeout = 5 * time.Second
	}
	return s
}

// Dependencies are the collaborators of MatchService. Results, Notifier and Slots are optional.
type Dependencies struct {
	Sessions     SessionRepository
	Questions    QuestionRepository
	Opponents    OpponentResolver
	Registry     ActiveSessionRegistry
	Results      ResultRepository
	Notifier     Notifier
	Slots        SlotLimiter
	SessionRules []AdmissionRule
	LLMRules     []AdmissionRule
	Clock        clockwork.Clock
}

// MatchService contains the core match use cases.
type MatchService struct {
	deps     Dependencies
	settings Settings
	clock    clockwork.Clock

	root context.Context
	stop context.CancelFunc

	bgMu   sync.Mutex
	closed bool
	bg     sync.WaitGroup
}

func NewMatchService(deps Dependencies, settings Settings) *MatchService {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	root, stop := context.WithCancel(context.Background())
	return &MatchService{
		deps:     deps,
		settings: settings.withDefaults(),
		clock:    clock,
		root:     root,
		stop:     stop,
	}
}

// JoinSession reserves a new session for the player against the given opponent.
// A player who already owns a session gets a *domain.SessionActiveError.
func (s *MatchService) JoinSession(ctx context.Context, playerID, nickname, opponentSpecID string) (domain.ActiveSessionBinding, error) {
	if playerID == "" {
		return domain.ActiveSessionBinding{}, fmt.Errorf("%w: missing player id", domain.ErrNotParticipant)
	}
	name, err := domain.NormalizeNickname(nickname)
	if err != nil {
		return domain.ActiveSessionBinding{}, err
	}
	opponent, spec, err := s.deps.Opponents.Resolve(ctx, opponentSpecID)
	if err != nil {
		return domain.ActiveSessionBinding{}, err
	}

	existing, ok, err := s.deps.Registry.Get(ctx, playerID)
	if err != nil {
		return domain.ActiveSessionBinding{}, fmt.Errorf("lookup active session: %w", err)
	}
	if ok {
		return existing, &domain.SessionActiveError{Binding: existing}
	}
	if err := s.admit(ctx, s.deps.SessionRules, playerID); err != nil {
		return domain.ActiveSessionBinding{}, err
	}
	if s.deps.Slots != nil && !s.deps.Slots.TryAcquire(spec.Mode) {
		return domain.ActiveSessionBinding{}, domain.ErrTooManySessions
	}

	candidate := domain.ActiveSessionBinding{
		SessionID:      uuid.NewString(),
		OpponentSpecID: spec.ID,
		CreatedAt:      s.clock.Now(),
	}
	bound, err := s.deps.Registry.GetOrReserve(ctx, playerID, candidate)
	if err != nil {
		s.releaseSlot(spec.Mode)
		return domain.ActiveSessionBinding{}, fmt.Errorf("reserve session: %w", err)
	}
	if bound.SessionID != candidate.SessionID {
		s.releaseSlot(spec.Mode)
		return bound, &domain.SessionActiveError{Binding: bound}
	}

	session := NewSession(s.root, SessionParams{
		ID:       bound.SessionID,
		PlayerID: playerID,
		Nickname: name,
		Spec:     spec,
		Opponent: opponent,
		Binding:  bound,
		Clock:    s.clock,
	})
	s.deps.Sessions.Save(session)
	session.scheduleExpiry(s.settings.MaxLifespan, func() {
		log.Info().Str("session_id", session.id).Msg("session reached max lifespan")
		s.teardown(session)
	})

	log.Info().Str("session_id", session.id).Str("player_id", playerID).Str("opponent", spec.ID).Msg("session started")
	s.notify(domain.LifecycleEvent{
		Type:           domain.LifecycleSessionStarted,
		SessionID:      session.id,
		PlayerID:       playerID,
		Nickname:       name,
		Mode:           spec.Mode,
		OpponentSpecID: spec.ID,
		OccurredAt:     s.clock.Now(),
	})
	return bound, nil
}

// Reconnect hands a live session to a new connection. Of several concurrent
// callers for the same player only one receives the binding.
func (s *MatchService) Reconnect(ctx context.Context, playerID string) (domain.ActiveSessionBinding, error) {
	binding, ok, err := s.deps.Registry.TakeByOwner(ctx, playerID)
	if err != nil {
		return domain.ActiveSessionBinding{}, fmt.Errorf("take session: %w", err)
	}
	if !ok {
		return domain.ActiveSessionBinding{}, domain.ErrNoActiveSession
	}
	session, found := s.deps.Sessions.Get(binding.SessionID)
	if !found {
		// The binding outlived its session; it stays removed.
		return domain.ActiveSessionBinding{}, domain.ErrNoActiveSession
	}
	// A join that lands between take and re-reserve wins; the taken session
	// must not stay live beside it.
	bound, err := s.deps.Registry.GetOrReserve(ctx, playerID, binding)
	if err != nil {
		s.teardown(session)
		return domain.ActiveSessionBinding{}, fmt.Errorf("re-reserve session: %w", err)
	}
	if bound.SessionID != binding.SessionID {
		log.Warn().Str("session_id", session.id).Str("replaced_by", bound.SessionID).Msg("session replaced during reconnect")
		s.teardown(session)
		return bound, &domain.SessionActiveError{Binding: bound}
	}
	session.cancelDetach()
	log.Info().Str("session_id", session.id).Str("player_id", playerID).Msg("session resumed")
	return bound, nil
}

// TerminateActiveSession ends whatever session the player owns, even when no
// connection is attached, and returns its id. A binding whose session is not
// live on this instance is still removed.
func (s *MatchService) TerminateActiveSession(ctx context.Context, playerID string) (string, error) {
	binding, ok, err := s.deps.Registry.TakeByOwner(ctx, playerID)
	if err != nil {
		return "", fmt.Errorf("take session: %w", err)
	}
	if !ok {
		return "", domain.ErrNoActiveSession
	}
	if session, found := s.deps.Sessions.Get(binding.SessionID); found {
		if session.playerID != playerID {
			log.Warn().Str("session_id", binding.SessionID).Str("player_id", playerID).Msg("binding points at a foreign session")
			return "", domain.ErrNotParticipant
		}
		s.teardown(session)
	}
	log.Info().Str("session_id", binding.SessionID).Str("player_id", playerID).Msg("active session terminated")
	return binding.SessionID, nil
}

// Subscribe returns a channel of updates for a session. An in-progress round is
// replayed as the first update. The caller must invoke the returned cancel function.
func (s *MatchService) Subscribe(_ context.Context, sessionID string) (<-chan domain.RoundUpdate, func(), error) {
	session, ok := s.deps.Sessions.Get(sessionID)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	var initial []domain.RoundUpdate
	if current, ok := session.CurrentRound(); ok {
		snap := current.Snapshot()
		if snap.IsInProgress() {
			view := domain.ViewOf(snap)
			initial = append(initial, domain.RoundUpdate{
				Type:      domain.UpdateRoundStarted,
				SessionID: sessionID,
				RoundID:   snap.ID,
				Round:     &view,
				At:        s.clock.Now(),
			})
		}
	}
	session.cancelDetach()
	ch, cancel := session.subscribe(initial)
	return ch, cancel, nil
}

// Detach ends the session after the grace period unless a subscriber returns.
func (s *MatchService) Detach(sessionID string) {
	session, ok := s.deps.Sessions.Get(sessionID)
	if !ok || session.subscriberCount() > 0 {
		return
	}
	session.scheduleDetach(s.settings.DetachGrace, func() {
		if session.subscriberCount() > 0 {
			return
		}
		log.Info().Str("session_id", sessionID).Msg("session expired after disconnect")
		s.teardown(session)
	})
}

// StartRound releases a question into a new round of the session.
func (s *MatchService) StartRound(ctx context.Context, sessionID, playerID, questionID string) (domain.RoundView, error) {
	session, err := s.ownedSession(sessionID, playerID)
	if err != nil {
		return domain.RoundView{}, err
	}
	if err := session.canStart(s.settings.MaxRounds); err != nil {
		return domain.RoundView{}, err
	}
	question, err := s.deps.Questions.GetQuestion(ctx, questionID)
	if err != nil {
		return domain.RoundView{}, err
	}
	if session.spec.Mode == domain.ModePremium {
		if err := s.admit(ctx, s.deps.LLMRules, playerID); err != nil {
			return domain.RoundView{}, err
		}
	}

	round := NewRound(RoundParams{
		SessionID: session.id,
		HumanID:   playerID,
		LLMID:     "llm:" + session.spec.ID,
		Question:  question,
		Mode:      session.spec.Mode,
		Duration:  s.settings.RoundDuration,
		Clock:     s.clock,
		Publish:   session.broadcast,
		OnResolve: func(r *Round, result domain.RoundResult) {
			s.roundResolved(session, r, result)
		},
	})
	if err := session.attach(round, s.settings.MaxRounds); err != nil {
		return domain.RoundView{}, err
	}

	view := domain.ViewOf(round.Snapshot())
	session.broadcast(domain.RoundUpdate{
		Type:      domain.UpdateRoundStarted,
		SessionID: session.id,
		RoundID:   view.RoundID,
		Round:     &view,
		At:        s.clock.Now(),
	})
	round.Start(session.ctx, session.opponent, domain.NewRoundContext(round.ID(), question, session.spec))
	log.Info().Str("session_id", session.id).Str("round_id", view.RoundID).Str("question_id", question.ID).Msg("round released")
	return view, nil
}

// SubmitAnswer records the human answer for a round.
func (s *MatchService) SubmitAnswer(_ context.Context, sessionID, playerID, roundID string, answer domain.Answer, clientSentAt *time.Time) error {
	session, err := s.ownedSession(sessionID, playerID)
	if err != nil {
		return err
	}
	round, ok := session.round(roundID)
	if !ok {
		return domain.ErrRoundNotFound
	}
	return round.Submit(domain.SideHuman, answer, clientSentAt)
}

// Round looks up a round of a session.
func (s *MatchService) Round(sessionID, roundID string) (*Round, error) {
	session, ok := s.deps.Sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	round, ok := session.round(roundID)
	if !ok {
		return nil, domain.ErrRoundNotFound
	}
	return round, nil
}

// Leave ends the player's session immediately.
func (s *MatchService) Leave(_ context.Context, sessionID, playerID string) error {
	session, err := s.ownedSession(sessionID, playerID)
	if err != nil {
		return err
	}
	s.teardown(session)
	return nil
}

// ActiveSession reports the player's current binding.
func (s *MatchService) ActiveSession(ctx context.Context, playerID string) (domain.ActiveSessionBinding, bool, error) {
	return s.deps.Registry.Get(ctx, playerID)
}

// ListOpponents returns the selectable opponents.
func (s *MatchService) ListOpponents() []domain.OpponentSpec {
	return s.deps.Opponents.Specs()
}

// Leaderboard returns the best results for a mode.
func (s *MatchService) Leaderboard(ctx context.Context, mode domain.GameMode, limit int) ([]domain.LeaderboardEntry, error) {
	if s.deps.Results == nil {
		return nil, nil
	}
	return s.deps.Results.Leaderboard(ctx, mode, limit)
}

// Close cancels every live session and waits for background persistence.
func (s *MatchService) Close() {
	for _, session := range s.deps.Sessions.List() {
		s.teardown(session)
	}
	s.bgMu.Lock()
	s.closed = true
	s.bgMu.Unlock()
	s.stop()
	s.bg.Wait()
}

func (s *MatchService) ownedSession(sessionID, playerID string) (*Session, error) {
	session, ok := s.deps.Sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if session.playerID != playerID {
		return nil, domain.ErrNotParticipant
	}
	return session, nil
}

func (s *MatchService) roundResolved(session *Session, round *Round, result domain.RoundResult) {
	summary, completed := session.record(result, s.settings.MaxRounds)
	snap := round.Snapshot()
	resolvedAt := s.clock.Now()

	s.background(func(ctx context.Context) {
		if s.deps.Results == nil {
			return
		}
		record := domain.RoundRecord{
			SessionID:  session.id,
			RoundID:    snap.ID,
			QuestionID: snap.Question.ID,
			PlayerID:   session.playerID,
			Result:     result,
			ResolvedAt: resolvedAt,
		}
		if err := s.deps.Results.SaveRound(ctx, record); err != nil {
			log.Error().Err(err).Str("session_id", session.id).Str("round_id", snap.ID).Msg("save round failed")
		}
	})
	s.notify(domain.LifecycleEvent{
		Type:           domain.LifecycleRoundResolved,
		SessionID:      session.id,
		PlayerID:       session.playerID,
		Mode:           session.spec.Mode,
		OpponentSpecID: session.spec.ID,
		RoundID:        snap.ID,
		Winner:         result.Winner,
		Reason:         string(result.Reason),
		HumanScore:     result.Human.Score.Total(),
		LLMScore:       result.LLM.Score.Total(),
		OccurredAt:     resolvedAt,
	})

	if completed {
		s.complete(session, summary)
	}
}

func (s *MatchService) complete(session *Session, summary domain.SessionSummary) {
	now := s.clock.Now()
	session.broadcast(domain.RoundUpdate{
		Type:      domain.UpdateSessionCompleted,
		SessionID: session.id,
		Summary:   &summary,
		At:        now,
	})

	result := domain.SessionResult{
		SessionID:      session.id,
		PlayerID:       session.playerID,
		Nickname:       session.nickname,
		Mode:           session.spec.Mode,
		OpponentSpecID: session.spec.ID,
		ProfileName:    session.spec.ProfileName,
		HumanScore:     summary.HumanTotal,
		LLMScore:       summary.LLMTotal,
		Winner:         summary.Winner,
		RoundsPlayed:   summary.RoundsPlayed,
		Duration:       now.Sub(session.createdAt),
		CompletedAt:    now,
	}
	s.background(func(ctx context.Context) {
		if s.deps.Results == nil {
			return
		}
		if err := s.deps.Results.SaveSession(ctx, result); err != nil {
			log.Error().Err(err).Str("session_id", session.id).Msg("save session failed")
		}
	})
	s.notify(domain.LifecycleEvent{
		Type:           domain.LifecycleSessionCompleted,
		SessionID:      session.id,
		PlayerID:       session.playerID,
		Nickname:       session.nickname,
		Mode:           session.spec.Mode,
		OpponentSpecID: session.spec.ID,
		Winner:         summary.Winner,
		HumanScore:     summary.HumanTotal,
		LLMScore:       summary.LLMTotal,
		RoundsPlayed:   summary.RoundsPlayed,
		OccurredAt:     now,
	})
	log.Info().Str("session_id", session.id).Str("winner", string(summary.Winner)).Msg("session completed")
	s.teardown(session)
}

// teardown releases everything a session holds. Only the first call has effect.
func (s *MatchService) teardown(session *Session) {
	if !session.close() {
		return
	}
	s.deps.Sessions.Delete(session.id)
	s.releaseSlot(session.spec.Mode)

	ctx, cancel := context.WithTimeout(context.Background(), s.settings.BackgroundTimeout)
	defer cancel()
	if err := s.deps.Registry.Clear(ctx, session.playerID, session.id); err != nil {
		log.Error().Err(err).Str("session_id", session.id).Msg("clear active session failed")
	}
}

func (s *MatchService) admit(ctx context.Context, rules []AdmissionRule, playerID string) error {
	for _, rule := range rules {
		key := rule.Name
		if rule.PerPlayer {
			key += playerID
		}
		ok, err := rule.Guard.Allow(ctx, key)
		if err != nil {
			return fmt.Errorf("admission %s: %w", key, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrRateLimited, rule.Name)
		}
	}
	return nil
}

func (s *MatchService) releaseSlot(mode domain.GameMode) {
	if s.deps.Slots != nil {
		s.deps.Slots.Release(mode)
	}
}

func (s *MatchService) notify(event domain.LifecycleEvent) {
	if s.deps.Notifier == nil {
		return
	}
	s.background(func(ctx context.Context) {
		if err := s.deps.Notifier.Notify(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("event", string(event.Type)).Str("session_id", event.SessionID).Msg("notification failed")
		}
	})
}

// background runs fn with its own timeout. Work scheduled after Close is dropped.
func (s *MatchService) background(fn func(ctx context.Context)) {
	s.bgMu.Lock()
	if s.closed {
		s.bgMu.Unlock()
		return
	}
	s.bg.Add(1)
	s.bgMu.Unlock()
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.settings.BackgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}
