package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"versus-quiz-service/internal/domain"
)

func TestActiveSessionsSingleWinner(t *testing.T) {
	reg := NewActiveSessions()
	ctx := context.Background()

	const callers = 32
	results := make(chan domain.ActiveSessionBinding, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := reg.GetOrReserve(ctx, "p-1", domain.ActiveSessionBinding{SessionID: fmt.Sprintf("s-%d", i)})
			if err != nil {
				t.Errorf("reserve: %v", err)
			}
			results <- b
		}(i)
	}
	wg.Wait()
	close(results)

	var winner string
	for b := range results {
		if winner == "" {
			winner = b.SessionID
		}
		if b.SessionID != winner {
			t.Fatalf("callers disagree: %s vs %s", b.SessionID, winner)
		}
	}
}

func TestActiveSessionsClearAndTake(t *testing.T) {
	reg := NewActiveSessions()
	ctx := context.Background()
	_, _ = reg.GetOrReserve(ctx, "p-1", domain.ActiveSessionBinding{SessionID: "s-1"})

	if err := reg.Clear(ctx, "p-1", "s-other"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := reg.Get(ctx, "p-1"); !ok {
		t.Fatalf("clear with a stale session id must not remove the binding")
	}

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := reg.TakeByOwner(ctx, "p-1"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one take, got %d", wins)
	}
	if _, ok, _ := reg.Get(ctx, "p-1"); ok {
		t.Fatalf("expected binding removed")
	}
}
