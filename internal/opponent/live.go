package opponent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"versus-quiz-service/internal/domain"
	"versus-quiz-service/internal/stream"
)

// Live asks an OpenAI-compatible endpoint and paces its streamed reasoning.
type Live struct {
	client *openai.Client
	cfg    domain.ProviderConfig
	pacer  *stream.Pacer
	policy domain.StreamingPolicy
}

func NewLive(cfg domain.ProviderConfig, pacer *stream.Pacer, policy domain.StreamingPolicy) (*Live, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("live opponent: model is required")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &Live{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		pacer:  pacer,
		policy: withDefaults(policy),
	}, nil
}

func (l *Live) StreamAnswer(ctx context.Context, rc domain.RoundContext, out stream.Emitter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	upstream := make(chan domain.StreamEvent, 16)
	go l.produce(ctx, rc, upstream)
	return l.pacer.Pace(ctx, l.policy, upstream, out)
}

func (l *Live) GetAnswer(ctx context.Context, rc domain.RoundContext) (domain.Answer, error) {
	resp, err := l.client.CreateChatCompletion(ctx, l.request(rc, false))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", ErrUnparsableAnswer)
	}
	return ParseFinalAnswer(resp.Choices[0].Message.Content, rc.ExpectedKind, len(rc.Choices))
}

// produce turns the completion stream into events and always closes upstream.
func (l *Live) produce(ctx context.Context, rc domain.RoundContext, upstream chan<- domain.StreamEvent) {
	defer close(upstream)
	send := func(ev domain.StreamEvent) bool {
		select {
		case upstream <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(msg string, err error) {
		log.Warn().Err(err).Str("round_id", rc.RoundID).Str("model", l.cfg.Model).Msg(msg)
		send(domain.StreamError{Message: msg, Cause: err})
	}

	st, err := l.client.CreateChatCompletionStream(ctx, l.request(rc, true))
	if err != nil {
		fail("open completion stream", err)
		return
	}
	defer st.Close()

	var text strings.Builder
	tokens := 0
	for {
		resp, err := st.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() == nil {
				fail("read completion stream", err)
			}
			return
		}
		for _, choice := range resp.Choices {
			delta := choice.Delta.Content
			if delta == "" {
				continue
			}
			text.WriteString(delta)
			tokens += len(stream.Tokenize(delta))
			if !send(domain.ReasoningDelta{Text: delta, EmittedTokenCount: tokens, TotalTokenCount: tokens}) {
				return
			}
		}
	}

	answer, err := ParseFinalAnswer(text.String(), rc.ExpectedKind, len(rc.Choices))
	if err != nil {
		fail("parse final answer", err)
		return
	}
	send(domain.FinalAnswer{Answer: answer})
}

func (l *Live) request(rc domain.RoundContext, streaming bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: l.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instructions(rc.ExpectedKind)},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(rc)},
		},
		MaxCompletionTokens: l.cfg.MaxTokens,
		Temperature:         l.cfg.Temperature,
		Stream:              streaming,
	}
}
