package app

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"versus-quiz-service/internal/domain"
	"versus-quiz-service/internal/stream"
)

type scriptedOpponent struct {
	events []domain.StreamEvent
	err    error
	// block keeps the stream open until cancelled, then tries one late answer.
	block   bool
	lateErr chan error
}

func (o *scriptedOpponent) StreamAnswer(ctx context.Context, _ domain.RoundContext, out stream.Emitter) error {
	for _, ev := range o.events {
		if err := out.Emit(ctx, ev); err != nil {
			return err
		}
	}
	if o.block {
		<-ctx.Done()
		if o.lateErr != nil {
			o.lateErr <- out.Emit(context.Background(), domain.FinalAnswer{Answer: domain.MultipleChoiceAnswer{ChoiceIndex: 1}})
		}
		return ctx.Err()
	}
	return o.err
}

func (o *scriptedOpponent) GetAnswer(context.Context, domain.RoundContext) (domain.Answer, error) {
	return nil, errors.New("not used")
}

func easyQuestion() domain.Question {
	return domain.Question{
		ID:         "q1",
		Prompt:     "Which planet is known as the red planet?",
		Choices:    []string{"Venus", "Mars", "Jupiter", "Saturn"},
		Difficulty: domain.DifficultyEasy,
		Verifier:   domain.MultipleChoiceSpec{CorrectIndex: 1},
	}
}

type roundHarness struct {
	clock    *clockwork.FakeClock
	round    *Round
	updates  chan domain.RoundUpdate
	resolved chan domain.RoundResult
}

func newRoundHarness(t *testing.T, opp Opponent) *roundHarness {
	t.Helper()
	h := &roundHarness{
		clock:    clockwork.NewFakeClock(),
		updates:  make(chan domain.RoundUpdate, 256),
		resolved: make(chan domain.RoundResult, 4),
	}
	h.round = NewRound(RoundParams{
		ID:        "r1",
		SessionID: "s1",
		HumanID:   "u1",
		LLMID:     "llm:replay",
		Question:  easyQuestion(),
		Mode:      domain.ModeLightweight,
		Duration:  30 * time.Second,
		Clock:     h.clock,
		Publish:   func(u domain.RoundUpdate) { h.updates <- u },
		OnResolve: func(_ *Round, res domain.RoundResult) { h.resolved <- res },
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.round.Start(ctx, opp, domain.NewRoundContext("r1", easyQuestion(), domain.OpponentSpec{ID: "replay"}))
	return h
}

func (h *roundHarness) wait(t *testing.T) domain.RoundResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.round.Wait(ctx)
	if err != nil {
		t.Fatalf("wait for resolution: %v", err)
	}
	return res
}

func (h *roundHarness) waitFor(t *testing.T, typ domain.UpdateType) []domain.RoundUpdate {
	t.Helper()
	var seen []domain.RoundUpdate
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u := <-h.updates:
			seen = append(seen, u)
			if u.Type == typ {
				return seen
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s, saw %d updates", typ, len(seen))
		}
	}
}

func TestRoundResolvesWhenBothSubmit(t *testing.T) {
	opp := &scriptedOpponent{events: []domain.StreamEvent{
		domain.ReasoningDelta{Text: "Iron oxide...", EmittedTokenCount: 2, TotalTokenCount: 2},
		domain.FinalAnswer{Answer: domain.MultipleChoiceAnswer{ChoiceIndex: 1}},
	}}
	h := newRoundHarness(t, opp)

	h.clock.Advance(3 * time.Second)
	if err := h.round.Submit(domain.SideHuman, domain.MultipleChoiceAnswer{ChoiceIndex: 1}, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.clock.Advance(5 * time.Second) // handicap for EASY lightweight is 8s

	res := h.wait(t)
	if res.Reason != domain.ReasonNormal || res.Winner != domain.WinnerHuman {
		t.Fatalf("expected NORMAL human win, got %s/%s", res.Reason, res.Winner)
	}
	if math.Abs(res.Human.Score.Total()-145) > 1e-9 {
		t.Fatalf("expected human total 145, got %v", res.Human.Score.Total())
	}
	if res.LLM.ResponseTime != 8*time.Second || !res.LLM.Correct {
		t.Fatalf("unexpected llm outcome %+v", res.LLM)
	}

	seen := h.waitFor(t, domain.UpdateRoundResolved)
	var finals int
	for _, u := range seen {
		if u.Stream != nil {
			if _, ok := u.Stream.Event.(domain.FinalAnswer); ok {
				finals++
			}
		}
	}
	if finals != 1 {
		t.Fatalf("expected final answer streamed once, got %d", finals)
	}

	snap := h.round.Snapshot()
	if !snap.Deadline.After(snap.ReleasedAt) || snap.IsInProgress() {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestRoundHoldsOpponentAnswerUntilHumanSubmits(t *testing.T) {
	opp := &scriptedOpponent{events: []domain.StreamEvent{
		domain.FinalAnswer{Answer: domain.MultipleChoiceAnswer{ChoiceIndex: 2}},
	}}
	h := newRoundHarness(t, opp)

	h.clock.Advance(8 * time.Second)
	seen := h.waitFor(t, domain.UpdateLlmAnswerLocked)
	for _, u := range seen {
		if u.Stream != nil {
			t.Fatalf("opponent answer leaked before human submitted: %+v", u)
		}
	}

	h.clock.Advance(2 * time.Second)
	if err := h.round.Submit(domain.SideHuman, domain.MultipleChoiceAnswer{ChoiceIndex: 1}, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res := h.wait(t)
	if res.Winner != domain.WinnerHuman || res.LLM.Correct {
		t.Fatalf("expected human to win against a wrong answer, got %+v", res)
	}

	seen = h.waitFor(t, domain.UpdateRoundResolved)
	released := false
	for _, u := range seen {
		if u.Stream != nil {
			if _, ok := u.Stream.Event.(domain.FinalAnswer); ok {
				released = true
			}
		}
	}
	if !released {
		t.Fatalf("expected held answer to be released before resolution")
	}
}

func TestRoundDeadlineWithoutSubmissions(t *testing.T) {
	h := newRoundHarness(t, nil)

	h.clock.Advance(30 * time.Second)
	res := h.wait(t)
	if res.Reason != domain.ReasonTimeoverBoth || res.Winner != domain.WinnerNone {
		t.Fatalf("expected TIMEOVER_BOTH/NONE, got %s/%s", res.Reason, res.Winner)
	}
	if res.Human.Score.Total() != 0 || res.LLM.Score.Total() != 0 {
		t.Fatalf("expected zero scores, got %+v", res)
	}
	if err := h.round.Submit(domain.SideHuman, domain.MultipleChoiceAnswer{ChoiceIndex: 1}, nil); !errors.Is(err, domain.ErrRoundNotInProgress) {
		t.Fatalf("expected not in progress, got %v", err)
	}
}

func TestRoundOpponentFailureCountsAsNoAnswer(t *testing.T) {
	opp := &scriptedOpponent{err: errors.New("upstream 503")}
	h := newRoundHarness(t, opp)

	if err := h.round.Submit(domain.SideHuman, domain.MultipleChoiceAnswer{ChoiceIndex: 1}, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.clock.Advance(8 * time.Second)
	seen := h.waitFor(t, domain.UpdateLlmStream)
	last := seen[len(seen)-1]
	if _, ok := last.Stream.Event.(domain.StreamError); !ok {
		t.Fatalf("expected stream error event, got %+v", last.Stream.Event)
	}

	h.clock.Advance(22 * time.Second)
	res := h.wait(t)
	if res.Reason != domain.ReasonTimeoverLLM || res.Winner != domain.WinnerHuman {
		t.Fatalf("expected TIMEOVER_LLM human win, got %s/%s", res.Reason, res.Winner)
	}
}

func TestRoundCancelledOpponentEmitsNoFinalAnswer(t *testing.T) {
	opp := &scriptedOpponent{
		events:  []domain.StreamEvent{domain.ReasoningDelta{Text: "hmm", EmittedTokenCount: 1, TotalTokenCount: 10}},
		block:   true,
		lateErr: make(chan error, 1),
	}
	h := newRoundHarness(t, opp)

	h.clock.Advance(8 * time.Second)
	h.waitFor(t, domain.UpdateLlmStream)
	h.clock.Advance(22 * time.Second)
	res := h.wait(t)
	if res.Reason != domain.ReasonTimeoverBoth {
		t.Fatalf("expected TIMEOVER_BOTH, got %s", res.Reason)
	}

	select {
	case err := <-opp.lateErr:
		if err == nil {
			t.Fatalf("late final answer was accepted")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("opponent was not cancelled")
	}
	for {
		select {
		case u := <-h.updates:
			if u.Stream != nil {
				if _, ok := u.Stream.Event.(domain.FinalAnswer); ok {
					t.Fatalf("final answer published after cancellation")
				}
			}
		default:
			return
		}
	}
}

func TestRoundRejectsDuplicateAndLateSubmissions(t *testing.T) {
	fc := clockwork.NewFakeClock()
	round := NewRound(RoundParams{Question: easyQuestion(), Mode: domain.ModePremium, Duration: 30 * time.Second, Clock: fc})

	if err := round.Submit(domain.SideHuman, domain.IntegerAnswer{Value: 1}, nil); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := round.Submit(domain.SideHuman, domain.MultipleChoiceAnswer{ChoiceIndex: 1}, nil); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if snap := round.Snapshot(); snap.Human.Answer != (domain.IntegerAnswer{Value: 1}) {
		t.Fatalf("duplicate overwrote the first answer: %+v", snap.Human.Answer)
	}

	fc.Advance(30 * time.Second)
	if err := round.Submit(domain.SideLLM, domain.MultipleChoiceAnswer{ChoiceIndex: 1}, nil); !errors.Is(err, domain.ErrDeadlinePassed) {
		t.Fatalf("expected deadline rejection, got %v", err)
	}
	if !round.Snapshot().IsInProgress() {
		t.Fatalf("round without a watcher must stay in progress")
	}
}

func TestRoundDropsOpponentAnswerAfterDeadline(t *testing.T) {
	fc := clockwork.NewFakeClock()
	updates := make(chan domain.RoundUpdate, 16)
	round := NewRound(RoundParams{
		ID:       "r1",
		Question: easyQuestion(),
		Mode:     domain.ModeLightweight,
		Duration: 30 * time.Second,
		Clock:    fc,
		Publish:  func(u domain.RoundUpdate) { updates <- u },
	})

	// The answer lands after the deadline but before the watcher resolves.
	fc.Advance(30 * time.Second)
	final := domain.SequencedEvent{Seq: 3, Event: domain.FinalAnswer{Answer: domain.MultipleChoiceAnswer{ChoiceIndex: 1}}}
	if err := round.deliver(context.Background(), final); !errors.Is(err, domain.ErrDeadlinePassed) {
		t.Fatalf("expected deadline rejection, got %v", err)
	}

	round.mu.Lock()
	res := round.resolveLocked()
	round.mu.Unlock()
	if res.Reason != domain.ReasonTimeoverBoth || res.LLM.Correct {
		t.Fatalf("expected TIMEOVER_BOTH without an llm answer, got %+v", res)
	}

	close(updates)
	for u := range updates {
		if u.Type == domain.UpdateLlmAnswerLocked || u.Stream != nil {
			t.Fatalf("rejected answer was published: %+v", u)
		}
	}
}

func TestRoundResolvesExactlyOnceUnderRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newRoundHarness(t, nil)

		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(3)
		go func() {
			defer wg.Done()
			<-start
			_ = h.round.Submit(domain.SideHuman, domain.MultipleChoiceAnswer{ChoiceIndex: 1}, nil)
		}()
		go func() {
			defer wg.Done()
			<-start
			_ = h.round.Submit(domain.SideLLM, domain.MultipleChoiceAnswer{ChoiceIndex: 0}, nil)
		}()
		go func() {
			defer wg.Done()
			<-start
			h.clock.Advance(30 * time.Second)
		}()
		close(start)
		wg.Wait()

		results := make(chan domain.RoundResult, 2)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for j := 0; j < 2; j++ {
			go func() {
				res, _ := h.round.Wait(ctx)
				results <- res
			}()
		}
		first, second := <-results, <-results
		cancel()
		if first.Reason == "" {
			t.Fatalf("round did not resolve")
		}
		if first.Winner != second.Winner || first.Reason != second.Reason {
			t.Fatalf("callers observed different results: %+v vs %+v", first, second)
		}

		select {
		case <-h.resolved:
		case <-time.After(5 * time.Second):
			t.Fatalf("resolution hook not called")
		}
		select {
		case extra := <-h.resolved:
			t.Fatalf("round resolved twice: %+v", extra)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestNewRoundRejectsNonPositiveDuration(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewRound(RoundParams{Question: easyQuestion(), Duration: 0, Clock: clockwork.NewFakeClock()})
}
