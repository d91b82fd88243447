package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"versus-quiz-service/internal/domain"
)

// QuestionLoader loads question JSONB from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM questions WHERE id=$1`, questionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	var question domain.Question
	if err := json.Unmarshal(raw, &question); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal question: %w", err)
	}
	return question, nil
}

// SaveQuestion upserts a question; used for seeding.
func (l *QuestionLoader) SaveQuestion(ctx context.Context, question domain.Question) error {
	raw, err := json.Marshal(question)
	if err != nil {
		return fmt.Errorf("marshal question: %w", err)
	}
	_, err = l.pool.Exec(ctx, `
INSERT INTO questions (id, difficulty, data) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET difficulty = EXCLUDED.difficulty, data = EXCLUDED.data`,
		question.ID, string(question.Difficulty), raw)
	if err != nil {
		return fmt.Errorf("save question: %w", err)
	}
	return nil
}
