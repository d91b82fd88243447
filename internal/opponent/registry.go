package opponent

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
	"versus-quiz-service/internal/app"
	"versus-quiz-service/internal/domain"
	"versus-quiz-service/internal/stream"
)

// Registry builds one adapter per opponent spec on first use and keeps it.
type Registry struct {
	specs       map[string]domain.OpponentSpec
	order       []string
	transcripts TranscriptSource
	pacer       *stream.Pacer
	sf          singleflight.Group

	mu    sync.RWMutex
	built map[string]app.Opponent
}

func NewRegistry(specs []domain.OpponentSpec, transcripts TranscriptSource, pacer *stream.Pacer) *Registry {
	r := &Registry{
		specs:       make(map[string]domain.OpponentSpec, len(specs)),
		transcripts: transcripts,
		pacer:       pacer,
		built:       make(map[string]app.Opponent),
	}
	for _, spec := range specs {
		if _, dup := r.specs[spec.ID]; !dup {
			r.order = append(r.order, spec.ID)
		}
		r.specs[spec.ID] = spec
	}
	return r
}

func (r *Registry) Resolve(_ context.Context, specID string) (app.Opponent, domain.OpponentSpec, error) {
	spec, ok := r.specs[specID]
	if !ok {
		return nil, domain.OpponentSpec{}, fmt.Errorf("%w: %s", domain.ErrOpponentNotFound, specID)
	}

	r.mu.RLock()
	opp, ok := r.built[specID]
	r.mu.RUnlock()
	if ok {
		return opp, spec, nil
	}

	v, err, _ := r.sf.Do(specID, func() (interface{}, error) {
		r.mu.RLock()
		opp, ok := r.built[specID]
		r.mu.RUnlock()
		if ok {
			return opp, nil
		}
		opp, err := r.build(spec)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.built[specID] = opp
		r.mu.Unlock()
		return opp, nil
	})
	if err != nil {
		return nil, domain.OpponentSpec{}, err
	}
	return v.(app.Opponent), spec, nil
}

// Specs lists opponents in definition order.
func (r *Registry) Specs() []domain.OpponentSpec {
	out := make([]domain.OpponentSpec, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.specs[id])
	}
	return out
}

func (r *Registry) build(spec domain.OpponentSpec) (app.Opponent, error) {
	switch spec.Mode {
	case domain.ModeLightweight:
		if r.transcripts == nil {
			return nil, fmt.Errorf("opponent %s: no transcript source configured", spec.ID)
		}
		return NewReplay(r.transcripts, r.pacer, spec.Streaming), nil
	case domain.ModePremium:
		if spec.Provider == nil {
			return nil, fmt.Errorf("opponent %s: provider is required for %s", spec.ID, spec.Mode)
		}
		return NewLive(*spec.Provider, r.pacer, spec.Streaming)
	default:
		return nil, fmt.Errorf("opponent %s: unknown mode %q", spec.ID, spec.Mode)
	}
}
