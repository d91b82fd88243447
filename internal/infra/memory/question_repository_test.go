package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"versus-quiz-service/internal/domain"
)

func TestQuestionRepositoryCaches(t *testing.T) {
	loader := &countingLoader{QuestionLoader: NewStaticQuestionLoader([]domain.Question{sampleQuestion()})}
	clock := clockwork.NewFakeClock()
	repo := NewQuestionRepository(loader, time.Minute, clock)

	if _, err := repo.GetQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("get question: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls.Load())
	}

	q, err := repo.GetQuestion(context.Background(), "q1")
	if err != nil {
		t.Fatalf("get question 2: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls.Load())
	}
	if q.Verifier != (domain.MultipleChoiceSpec{CorrectIndex: 1}) {
		t.Fatalf("unexpected verifier %+v", q.Verifier)
	}

	// TTL plus the maximum jitter.
	clock.Advance(time.Minute + 6*time.Second + time.Millisecond)
	if _, err := repo.GetQuestion(context.Background(), "q1"); err != nil {
		t.Fatalf("get question 3: %v", err)
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after expiry, loader calls %d", loader.calls.Load())
	}
}

func TestQuestionRepositoryNotFound(t *testing.T) {
	repo := NewQuestionRepository(NewStaticQuestionLoader(nil), time.Minute, nil)
	if _, err := repo.GetQuestion(context.Background(), "missing"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type countingLoader struct {
	QuestionLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	l.calls.Add(1)
	return l.QuestionLoader.LoadQuestion(ctx, questionID)
}

func sampleQuestion() domain.Question {
	return domain.Question{
		ID:         "q1",
		Prompt:     "What is 2 + 2?",
		Choices:    []string{"3", "4", "5"},
		Difficulty: domain.DifficultyEasy,
		Verifier:   domain.MultipleChoiceSpec{CorrectIndex: 1},
	}
}
