package opponent

import (
	"context"

	"versus-quiz-service/internal/domain"
	"versus-quiz-service/internal/stream"
)

// TranscriptSource looks up recorded answers.
type TranscriptSource interface {
	Transcript(ctx context.Context, questionID, profile string) (domain.LlmTranscript, error)
}

// Replay plays back a recorded answer at a human-readable pace.
type Replay struct {
	transcripts TranscriptSource
	pacer       *stream.Pacer
	policy      domain.StreamingPolicy
}

func NewReplay(transcripts TranscriptSource, pacer *stream.Pacer, policy domain.StreamingPolicy) *Replay {
	return &Replay{transcripts: transcripts, pacer: pacer, policy: withDefaults(policy)}
}

func (r *Replay) StreamAnswer(ctx context.Context, rc domain.RoundContext, out stream.Emitter) error {
	t, err := r.transcripts.Transcript(ctx, rc.QuestionID, rc.Spec.ProfileName)
	if err != nil {
		return err
	}
	return r.pacer.Replay(ctx, t, r.policy, out)
}

func (r *Replay) GetAnswer(ctx context.Context, rc domain.RoundContext) (domain.Answer, error) {
	t, err := r.transcripts.Transcript(ctx, rc.QuestionID, rc.Spec.ProfileName)
	if err != nil {
		return nil, err
	}
	return t.FinalAnswer, nil
}

func withDefaults(p domain.StreamingPolicy) domain.StreamingPolicy {
	def := domain.DefaultStreamingPolicy()
	if p.BurstMultiplierOnFinal <= 0 {
		p.BurstMultiplierOnFinal = def.BurstMultiplierOnFinal
	}
	if p.MaxBufferedChars <= 0 {
		p.MaxBufferedChars = def.MaxBufferedChars
	}
	if p.RevealDelay < 0 {
		p.RevealDelay = 0
	}
	return p
}
