package stream

import (
	"context"
	"errors"
	"sync"

	"versus-quiz-service/internal/domain"
)

// ErrStreamClosed is returned for events emitted after the terminal event.
var ErrStreamClosed = errors.New("stream already terminated")

// Emitter accepts opponent stream events in order.
type Emitter interface {
	Emit(ctx context.Context, ev domain.StreamEvent) error
}

// Sink receives sequenced events.
type Sink interface {
	Deliver(ctx context.Context, ev domain.SequencedEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev domain.SequencedEvent) error

func (f SinkFunc) Deliver(ctx context.Context, ev domain.SequencedEvent) error {
	return f(ctx, ev)
}

// Sequencer numbers events from zero and closes after the first terminal event.
// It is safe for concurrent producers; delivery happens in sequence order.
type Sequencer struct {
	mu     sync.Mutex
	next   int64
	closed bool
	sink   Sink
}

func NewSequencer(sink Sink) *Sequencer {
	return &Sequencer{sink: sink}
}

func (s *Sequencer) Emit(ctx context.Context, ev domain.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	seq := s.next
	s.next++
	if domain.IsTerminal(ev) {
		s.closed = true
	}
	return s.sink.Deliver(ctx, domain.SequencedEvent{Seq: seq, Event: ev})
}

// Closed reports whether the terminal event has been emitted.
func (s *Sequencer) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
