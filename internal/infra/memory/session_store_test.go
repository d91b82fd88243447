package memory

import (
	"context"
	"testing"

	"versus-quiz-service/internal/app"
)

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore()

	session := app.NewSession(context.Background(), app.SessionParams{ID: "s-1", PlayerID: "p-1"})
	store.Save(session)
	store.Save(app.NewSession(context.Background(), app.SessionParams{ID: "s-0", PlayerID: "p-2"}))

	got, ok := store.Get("s-1")
	if !ok || got != session {
		t.Fatalf("expected session present")
	}
	if list := store.List(); len(list) != 2 || list[0].ID() != "s-0" {
		t.Fatalf("unexpected list %v", list)
	}

	store.Delete("s-1")
	if _, ok := store.Get("s-1"); ok {
		t.Fatalf("expected session removed")
	}
}
