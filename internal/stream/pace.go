package stream

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"versus-quiz-service/internal/domain"
)

// ErrNoTerminalEvent is the cause attached when upstream ends without an answer.
var ErrNoTerminalEvent = errors.New("upstream completed without terminal event")

// Pace forwards a live upstream through the policy's buffer limit and pacing.
// Upstream is owned by the producer, which must close it when done.
func (p *Pacer) Pace(ctx context.Context, policy domain.StreamingPolicy, upstream <-chan domain.StreamEvent, out Emitter) error {
	buf := newDeltaBuffer(policy.MaxBufferedChars)
	collectCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go buf.collect(collectCtx, upstream)

	if err := p.sleep(ctx, policy.RevealDelay); err != nil {
		return err
	}

	lastEmitted := 0
	for {
		step := buf.next()
		if step.dropped > 0 {
			if err := out.Emit(ctx, domain.ReasoningTruncated{DroppedChars: step.dropped}); err != nil {
				return err
			}
		}
		switch {
		case step.delta != nil:
			if err := out.Emit(ctx, *step.delta); err != nil {
				return err
			}
			tokens := step.delta.EmittedTokenCount - lastEmitted
			if tokens < 1 {
				tokens = 1
			}
			lastEmitted = step.delta.EmittedTokenCount
			if err := p.sleep(ctx, liveDelay(policy, tokens, step.terminalKnown)); err != nil {
				return err
			}
			continue
		case step.terminal != nil:
			return out.Emit(ctx, step.terminal)
		case step.done:
			return out.Emit(ctx, domain.StreamError{Message: ErrNoTerminalEvent.Error(), Cause: ErrNoTerminalEvent})
		}
		select {
		case <-buf.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func liveDelay(policy domain.StreamingPolicy, tokens int, burst bool) time.Duration {
	if policy.TargetTokensPerSecond <= 0 {
		return 0
	}
	ms := float64(tokens) * 1000 / float64(policy.TargetTokensPerSecond)
	if burst && policy.BurstMultiplierOnFinal > 1 {
		ms /= policy.BurstMultiplierOnFinal
	}
	return time.Duration(math.Ceil(ms)) * time.Millisecond
}

type deltaBuffer struct {
	maxChars int
	wake     chan struct{}

	mu       sync.Mutex
	deltas   []domain.ReasoningDelta
	chars    int
	dropped  int
	terminal domain.StreamEvent
	done     bool
}

type bufferStep struct {
	delta         *domain.ReasoningDelta
	dropped       int
	terminal      domain.StreamEvent
	terminalKnown bool
	done          bool
}

func newDeltaBuffer(maxChars int) *deltaBuffer {
	return &deltaBuffer{maxChars: maxChars, wake: make(chan struct{}, 1)}
}

func (b *deltaBuffer) collect(ctx context.Context, upstream <-chan domain.StreamEvent) {
	defer func() {
		b.mu.Lock()
		b.done = true
		b.mu.Unlock()
		b.signal()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-upstream:
			if !ok {
				return
			}
			b.push(ev)
			b.signal()
		}
	}
}

func (b *deltaBuffer) push(ev domain.StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminal != nil {
		return
	}
	switch e := ev.(type) {
	case domain.ReasoningDelta:
		b.deltas = append(b.deltas, e)
		b.chars += utf8.RuneCountInString(e.Text)
		for b.maxChars > 0 && b.chars > b.maxChars && len(b.deltas) > 1 {
			n := utf8.RuneCountInString(b.deltas[0].Text)
			b.deltas = b.deltas[1:]
			b.chars -= n
			b.dropped += n
		}
	case domain.ReasoningTruncated:
		b.dropped += e.DroppedChars
	case domain.FinalAnswer, domain.StreamError:
		b.terminal = e
	}
}

// next pops the oldest delta. The terminal event is only handed out once the buffer is drained.
func (b *deltaBuffer) next() bufferStep {
	b.mu.Lock()
	defer b.mu.Unlock()
	step := bufferStep{dropped: b.dropped, terminalKnown: b.terminal != nil}
	b.dropped = 0
	if len(b.deltas) > 0 {
		d := b.deltas[0]
		b.deltas = b.deltas[1:]
		b.chars -= utf8.RuneCountInString(d.Text)
		step.delta = &d
		return step
	}
	step.terminal = b.terminal
	step.done = b.done
	return step
}

func (b *deltaBuffer) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}
