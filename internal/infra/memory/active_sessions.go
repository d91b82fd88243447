package memory

import (
	"context"
	"sync"

	"versus-quiz-service/internal/domain"
)

// ActiveSessions is an in-memory app.ActiveSessionRegistry.
type ActiveSessions struct {
	mu       sync.Mutex
	bindings map[string]domain.ActiveSessionBinding
}

func NewActiveSessions() *ActiveSessions {
	return &ActiveSessions{bindings: make(map[string]domain.ActiveSessionBinding)}
}

func (a *ActiveSessions) Get(_ context.Context, playerID string) (domain.ActiveSessionBinding, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.bindings[playerID]
	return b, ok, nil
}

func (a *ActiveSessions) GetOrReserve(_ context.Context, playerID string, candidate domain.ActiveSessionBinding) (domain.ActiveSessionBinding, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.bindings[playerID]; ok {
		return b, nil
	}
	a.bindings[playerID] = candidate
	return candidate, nil
}

func (a *ActiveSessions) Clear(_ context.Context, playerID, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.bindings[playerID]; ok && b.SessionID == sessionID {
		delete(a.bindings, playerID)
	}
	return nil
}

func (a *ActiveSessions) TakeByOwner(_ context.Context, playerID string) (domain.ActiveSessionBinding, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.bindings[playerID]
	if ok {
		delete(a.bindings, playerID)
	}
	return b, ok, nil
}
