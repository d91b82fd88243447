package app

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"versus-quiz-service/internal/domain"
	"versus-quiz-service/internal/scoring"
)

// Session is an in-memory match between one player and one opponent.
type Session struct {
	id        string
	playerID  string
	nickname  string
	spec      domain.OpponentSpec
	opponent  Opponent
	binding   domain.ActiveSessionBinding
	createdAt time.Time
	clock     clockwork.Clock
	ctx       context.Context
	cancel    context.CancelFunc

	mu          sync.Mutex
	rounds      map[string]*Round
	current     *Round
	played      int
	humanTotal  float64
	llmTotal    float64
	completed   bool
	closed      bool
	detachTimer clockwork.Timer
	expiry      clockwork.Timer

	subMu       sync.Mutex
	subClosed   bool
	subscribers map[chan domain.RoundUpdate]struct{}
}

// SessionParams configures a new session.
type SessionParams struct {
	ID       string
	PlayerID string
	Nickname string
	Spec     domain.OpponentSpec
	Opponent Opponent
	Binding  domain.ActiveSessionBinding
	Clock    clockwork.Clock
}

// NewSession is exported for infrastructure layers and tests that need to seed sessions.
// Round tasks are bound to parent.
func NewSession(parent context.Context, p SessionParams) *Session {
	if p.Clock == nil {
		p.Clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:          p.ID,
		playerID:    p.PlayerID,
		nickname:    p.Nickname,
		spec:        p.Spec,
		opponent:    p.Opponent,
		binding:     p.Binding,
		createdAt:   p.Clock.Now(),
		clock:       p.Clock,
		ctx:         ctx,
		cancel:      cancel,
		rounds:      make(map[string]*Round),
		subscribers: make(map[chan domain.RoundUpdate]struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) PlayerID() string {
	return s.playerID
}

func (s *Session) Spec() domain.OpponentSpec {
	return s.spec
}

func (s *Session) Binding() domain.ActiveSessionBinding {
	return s.binding
}

// CurrentRound returns the most recently started round, if any.
func (s *Session) CurrentRound() (*Round, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != nil
}

func (s *Session) round(roundID string) (*Round, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[roundID]
	return r, ok
}

// canStart reports why a new round may not begin. Round state is read outside s.mu.
func (s *Session) canStart(maxRounds int) error {
	s.mu.Lock()
	current, completed, closed, played := s.current, s.completed, s.closed, s.played
	s.mu.Unlock()

	switch {
	case closed:
		return domain.ErrSessionNotFound
	case completed || (maxRounds > 0 && played >= maxRounds):
		return domain.ErrSessionCompleted
	}
	if current != nil {
		if _, resolved := current.Result(); !resolved {
			return domain.ErrRoundInProgress
		}
	}
	return nil
}

// attach makes r the current round after re-checking the start conditions.
func (s *Session) attach(r *Round, maxRounds int) error {
	if err := s.canStart(maxRounds); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		select {
		case <-s.current.Done():
		default:
			return domain.ErrRoundInProgress
		}
	}
	s.rounds[r.ID()] = r
	s.current = r
	return nil
}

// record adds a resolved round to the totals and reports whether the match is over.
func (s *Session) record(result domain.RoundResult, maxRounds int) (domain.SessionSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played++
	s.humanTotal += result.Human.Score.Total()
	s.llmTotal += result.LLM.Score.Total()
	if maxRounds > 0 && s.played >= maxRounds {
		s.completed = true
	}
	return s.summaryLocked(), s.completed
}

// Summary totals the rounds played so far.
func (s *Session) Summary() domain.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

func (s *Session) summaryLocked() domain.SessionSummary {
	return domain.SessionSummary{
		HumanTotal:   s.humanTotal,
		LLMTotal:     s.llmTotal,
		RoundsPlayed: s.played,
		Winner:       scoring.MatchWinner(s.played, s.humanTotal, s.llmTotal),
	}
}

// close cancels round tasks and ends every subscription. It returns false if
// the session was already closed.
func (s *Session) close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	current := s.current
	if s.detachTimer != nil {
		s.detachTimer.Stop()
		s.detachTimer = nil
	}
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	s.mu.Unlock()

	if current != nil {
		current.abort()
	}
	s.cancel()

	s.subMu.Lock()
	s.subClosed = true
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.subMu.Unlock()
	return true
}

// scheduleExpiry caps the session lifetime regardless of activity.
func (s *Session) scheduleExpiry(lifespan time.Duration, expire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.expiry != nil {
		s.expiry.Stop()
	}
	s.expiry = s.clock.AfterFunc(lifespan, expire)
}

func (s *Session) scheduleDetach(grace time.Duration, expire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.detachTimer != nil {
		s.detachTimer.Stop()
	}
	s.detachTimer = s.clock.AfterFunc(grace, expire)
}

func (s *Session) cancelDetach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detachTimer != nil {
		s.detachTimer.Stop()
		s.detachTimer = nil
	}
}

func (s *Session) subscribe(initial []domain.RoundUpdate) (<-chan domain.RoundUpdate, func()) {
	ch := make(chan domain.RoundUpdate, 64)

	s.subMu.Lock()
	if s.subClosed {
		s.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	for _, u := range initial {
		ch <- u
	}
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Session) subscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subscribers)
}

// broadcast never blocks: a full subscriber loses its oldest queued update.
func (s *Session) broadcast(u domain.RoundUpdate) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- u:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- u
		}
	}
}
