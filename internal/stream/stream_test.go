package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"versus-quiz-service/internal/domain"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.SequencedEvent
}

func (r *recorder) Deliver(_ context.Context, ev domain.SequencedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) snapshot() []domain.SequencedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SequencedEvent(nil), r.events...)
}

func TestSequencerNumbersAndCloses(t *testing.T) {
	rec := &recorder{}
	seq := NewSequencer(rec)
	ctx := context.Background()

	_ = seq.Emit(ctx, domain.ReasoningDelta{Text: "a", EmittedTokenCount: 1, TotalTokenCount: 2})
	_ = seq.Emit(ctx, domain.ReasoningTruncated{DroppedChars: 3})
	if err := seq.Emit(ctx, domain.FinalAnswer{Answer: domain.IntegerAnswer{Value: 4}}); err != nil {
		t.Fatalf("emit final: %v", err)
	}
	if err := seq.Emit(ctx, domain.ReasoningDelta{Text: "late"}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected closed stream, got %v", err)
	}

	events := rec.snapshot()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != int64(i) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
	}
}

func TestChunkDelay(t *testing.T) {
	cases := []struct {
		n     int
		tps   float64
		burst float64
		want  time.Duration
	}{
		{5, 10, 1, 500 * time.Millisecond},
		{1, 1000, 1, 20 * time.Millisecond},
		{100, 1, 1, 750 * time.Millisecond},
		{1, 0, 1, 750 * time.Millisecond},
		{5, 10, 2, 250 * time.Millisecond},
		{3, 7, 1, 429 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := ChunkDelay(tc.n, tc.tps, tc.burst); got != tc.want {
			t.Fatalf("ChunkDelay(%d, %v, %v) = %v, want %v", tc.n, tc.tps, tc.burst, got, tc.want)
		}
	}
}

func TestTokenizeKeepsWhitespace(t *testing.T) {
	tokens := Tokenize("two  words\n")
	want := []string{"two", "  ", "words", "\n"}
	if strings.Join(tokens, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected tokens %q", tokens)
	}
	if Tokenize("   ") != nil {
		t.Fatalf("expected no tokens for blank text")
	}
}

func TestReplayChunksTranscript(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 12 words and 11 spaces make 23 tokens.
	reasoning := strings.Join(strings.Fields("one two three four five six seven eight nine ten eleven twelve"), " ")
	transcript := domain.LlmTranscript{
		QuestionID:             "q1",
		ProfileName:            "replay-small",
		Reasoning:              reasoning,
		FinalAnswer:            domain.MultipleChoiceAnswer{ChoiceIndex: 2},
		AverageTokensPerSecond: 10,
		ChunkSizeTokens:        5,
	}

	fc := clockwork.NewFakeClock()
	pacer := NewPacer(fc)
	rec := &recorder{}
	errc := make(chan error, 1)
	go func() {
		errc <- pacer.Replay(ctx, transcript, domain.DefaultStreamingPolicy(), NewSequencer(rec))
	}()

	for i := 0; i < 5; i++ {
		if err := fc.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("waiting for chunk %d: %v", i, err)
		}
		fc.Advance(time.Second)
	}
	if err := <-errc; err != nil {
		t.Fatalf("replay: %v", err)
	}

	events := rec.snapshot()
	if len(events) != 6 {
		t.Fatalf("expected 5 deltas and a final answer, got %d events", len(events))
	}
	sizes := []int{5, 5, 5, 5, 3}
	emitted := 0
	var rebuilt strings.Builder
	for i, size := range sizes {
		delta, ok := events[i].Event.(domain.ReasoningDelta)
		if !ok {
			t.Fatalf("event %d is %T", i, events[i].Event)
		}
		if delta.EmittedTokenCount != emitted+size || delta.TotalTokenCount != 23 {
			t.Fatalf("delta %d counts %d/%d", i, delta.EmittedTokenCount, delta.TotalTokenCount)
		}
		emitted = delta.EmittedTokenCount
		rebuilt.WriteString(delta.Text)
	}
	if rebuilt.String() != reasoning {
		t.Fatalf("deltas do not rebuild reasoning: %q", rebuilt.String())
	}
	final, ok := events[5].Event.(domain.FinalAnswer)
	if !ok || final.Answer != (domain.MultipleChoiceAnswer{ChoiceIndex: 2}) {
		t.Fatalf("expected final answer, got %+v", events[5].Event)
	}
}

func TestReplayBlankReasoningEmitsOnlyAnswer(t *testing.T) {
	rec := &recorder{}
	pacer := NewPacer(clockwork.NewFakeClock())
	err := pacer.Replay(context.Background(), domain.LlmTranscript{
		FinalAnswer: domain.FreeTextAnswer{Text: "Paris"},
	}, domain.DefaultStreamingPolicy(), NewSequencer(rec))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	events := rec.snapshot()
	if len(events) != 1 || events[0].Seq != 0 {
		t.Fatalf("expected a single final answer, got %+v", events)
	}
}

func TestReplayCancelledEmitsNoAnswer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fc := clockwork.NewFakeClock()
	pacer := NewPacer(fc)
	rec := &recorder{}
	errc := make(chan error, 1)
	go func() {
		errc <- pacer.Replay(ctx, domain.LlmTranscript{
			Reasoning:       "a b c d",
			FinalAnswer:     domain.IntegerAnswer{Value: 1},
			ChunkSizeTokens: 1,
		}, domain.DefaultStreamingPolicy(), NewSequencer(rec))
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := fc.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("wait: %v", err)
	}
	fc.Advance(time.Second)
	if err := fc.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("wait: %v", err)
	}
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	for _, ev := range rec.snapshot() {
		if domain.IsTerminal(ev.Event) {
			t.Fatalf("cancelled replay emitted terminal event %+v", ev)
		}
	}
}

func TestPaceSynthesizesErrorWithoutTerminal(t *testing.T) {
	upstream := make(chan domain.StreamEvent, 2)
	upstream <- domain.ReasoningDelta{Text: "thinking", EmittedTokenCount: 1}
	close(upstream)

	rec := &recorder{}
	pacer := NewPacer(clockwork.NewFakeClock())
	if err := pacer.Pace(context.Background(), domain.DefaultStreamingPolicy(), upstream, NewSequencer(rec)); err != nil {
		t.Fatalf("pace: %v", err)
	}
	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected delta and error, got %+v", events)
	}
	streamErr, ok := events[1].Event.(domain.StreamError)
	if !ok || !errors.Is(streamErr.Cause, ErrNoTerminalEvent) {
		t.Fatalf("expected synthetic error, got %+v", events[1].Event)
	}
}

func TestPaceForwardsInOrder(t *testing.T) {
	upstream := make(chan domain.StreamEvent, 4)
	upstream <- domain.ReasoningDelta{Text: "a", EmittedTokenCount: 1}
	upstream <- domain.ReasoningDelta{Text: "b", EmittedTokenCount: 2}
	upstream <- domain.FinalAnswer{Answer: domain.IntegerAnswer{Value: 42}}
	upstream <- domain.ReasoningDelta{Text: "ignored", EmittedTokenCount: 3}
	close(upstream)

	rec := &recorder{}
	pacer := NewPacer(clockwork.NewFakeClock())
	if err := pacer.Pace(context.Background(), domain.DefaultStreamingPolicy(), upstream, NewSequencer(rec)); err != nil {
		t.Fatalf("pace: %v", err)
	}
	events := rec.snapshot()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	if _, ok := events[2].Event.(domain.FinalAnswer); !ok {
		t.Fatalf("expected final answer last, got %T", events[2].Event)
	}
}

func TestDeltaBufferDropsOldest(t *testing.T) {
	buf := newDeltaBuffer(10)
	buf.push(domain.ReasoningDelta{Text: "aaaaaa", EmittedTokenCount: 1})
	buf.push(domain.ReasoningDelta{Text: "bbbbbb", EmittedTokenCount: 2})
	buf.push(domain.ReasoningDelta{Text: "cccccccccccccccc", EmittedTokenCount: 3})

	step := buf.next()
	if step.dropped != 12 {
		t.Fatalf("expected 12 dropped chars, got %d", step.dropped)
	}
	if step.delta == nil || step.delta.Text != "cccccccccccccccc" {
		t.Fatalf("expected newest delta to survive, got %+v", step.delta)
	}
	if next := buf.next(); next.delta != nil || next.dropped != 0 {
		t.Fatalf("expected empty buffer, got %+v", next)
	}
}

func TestLiveDelay(t *testing.T) {
	policy := domain.StreamingPolicy{TargetTokensPerSecond: 40, BurstMultiplierOnFinal: 4}
	if got := liveDelay(policy, 2, false); got != 50*time.Millisecond {
		t.Fatalf("expected 50ms, got %v", got)
	}
	if got := liveDelay(policy, 2, true); got != 13*time.Millisecond {
		t.Fatalf("expected burst 13ms, got %v", got)
	}
	if got := liveDelay(domain.StreamingPolicy{}, 5, false); got != 0 {
		t.Fatalf("expected no pacing without target rate, got %v", got)
	}
}
