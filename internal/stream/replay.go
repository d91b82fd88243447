package stream

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"versus-quiz-service/internal/domain"
)

const (
	minChunkDelay = 20 * time.Millisecond
	maxChunkDelay = 750 * time.Millisecond
)

var tokenPattern = regexp.MustCompile(`\s+|\S+`)

// Pacer turns opponent output into paced stream events.
type Pacer struct {
	clock clockwork.Clock
}

func NewPacer(clock clockwork.Clock) *Pacer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pacer{clock: clock}
}

// Tokenize splits text into word and whitespace tokens. Blank text has no tokens.
func Tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return tokenPattern.FindAllString(text, -1)
}

// ChunkDelay is the wait before emitting a chunk of n tokens.
func ChunkDelay(n int, tokensPerSecond, burst float64) time.Duration {
	tps := math.Max(1.0, tokensPerSecond)
	ms := float64(n) / tps * 1000
	if burst > 1 {
		ms /= burst
	}
	d := time.Duration(math.Ceil(ms)) * time.Millisecond
	if d < minChunkDelay {
		return minChunkDelay
	}
	if d > maxChunkDelay {
		return maxChunkDelay
	}
	return d
}

// Replay streams a recorded transcript: reasoning chunks, then the recorded answer.
// Cancellation stops the stream without a terminal event.
func (p *Pacer) Replay(ctx context.Context, t domain.LlmTranscript, policy domain.StreamingPolicy, out Emitter) error {
	if err := p.sleep(ctx, policy.RevealDelay); err != nil {
		return err
	}

	tokens := Tokenize(t.Reasoning)
	chunkSize := t.ChunkSizeTokens
	if chunkSize < 1 {
		chunkSize = 1
	}
	total := len(tokens)
	emitted := 0
	for start := 0; start < total; start += chunkSize {
		end := start + chunkSize
		if end > total {
			end = total
		}
		burst := 1.0
		if end == total {
			burst = policy.BurstMultiplierOnFinal
		}
		if err := p.sleep(ctx, ChunkDelay(end-start, t.AverageTokensPerSecond, burst)); err != nil {
			return err
		}
		emitted = end
		delta := domain.ReasoningDelta{
			Text:              strings.Join(tokens[start:end], ""),
			EmittedTokenCount: emitted,
			TotalTokenCount:   total,
		}
		if err := out.Emit(ctx, delta); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return out.Emit(ctx, domain.FinalAnswer{Answer: t.FinalAnswer})
}

func (p *Pacer) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := p.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
