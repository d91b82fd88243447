package ratelimit

import (
	"golang.org/x/sync/semaphore"
	"versus-quiz-service/internal/domain"
)

// ActiveSessions caps concurrently live sessions per game mode.
type ActiveSessions struct {
	slots map[domain.GameMode]*semaphore.Weighted
}

// NewActiveSessions builds a cap per mode. Modes missing from limits, or with a
// non-positive limit, are unbounded.
func NewActiveSessions(limits map[domain.GameMode]int) *ActiveSessions {
	slots := make(map[domain.GameMode]*semaphore.Weighted, len(limits))
	for mode, n := range limits {
		if n > 0 {
			slots[mode] = semaphore.NewWeighted(int64(n))
		}
	}
	return &ActiveSessions{slots: slots}
}

// TryAcquire takes a slot without blocking.
func (a *ActiveSessions) TryAcquire(mode domain.GameMode) bool {
	sem, ok := a.slots[mode]
	if !ok {
		return true
	}
	return sem.TryAcquire(1)
}

// Release returns a slot taken by TryAcquire.
func (a *ActiveSessions) Release(mode domain.GameMode) {
	if sem, ok := a.slots[mode]; ok {
		sem.Release(1)
	}
}
