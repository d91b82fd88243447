package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"versus-quiz-service/internal/domain"
)

const defaultLeaderboardLimit = 100

// ResultRepository persists finished rounds and sessions.
type ResultRepository struct {
	pool *pgxpool.Pool
}

func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

func (r *ResultRepository) SaveRound(ctx context.Context, rec domain.RoundRecord) error {
	res := rec.Result
	_, err := r.pool.Exec(ctx, `
INSERT INTO round_results (
	round_id, session_id, question_id, player_id, winner, reason,
	human_correct, human_ms, human_score,
	llm_correct, llm_ms, llm_score, resolved_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (round_id) DO NOTHING`,
		rec.RoundID, rec.SessionID, rec.QuestionID, rec.PlayerID, string(res.Winner), string(res.Reason),
		res.Human.Correct, res.Human.ResponseTime.Milliseconds(), res.Human.Score.Total(),
		res.LLM.Correct, res.LLM.ResponseTime.Milliseconds(), res.LLM.Score.Total(), rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("save round: %w", err)
	}
	return nil
}

func (r *ResultRepository) SaveSession(ctx context.Context, s domain.SessionResult) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO session_results (
	session_id, player_id, nickname, mode, opponent_spec_id, profile_name,
	human_score, llm_score, winner, rounds_played, duration_ms, completed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (session_id) DO NOTHING`,
		s.SessionID, s.PlayerID, s.Nickname, string(s.Mode), s.OpponentSpecID, s.ProfileName,
		s.HumanScore, s.LLMScore, string(s.Winner), s.RoundsPlayed, s.Duration.Milliseconds(), s.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Leaderboard ranks each player's best session per opponent profile; faster sessions win ties.
func (r *ResultRepository) Leaderboard(ctx context.Context, mode domain.GameMode, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	rows, err := r.pool.Query(ctx, `
SELECT player_id, nickname, profile_name, human_score, duration_ms
FROM (
	SELECT *, ROW_NUMBER() OVER (
		PARTITION BY player_id, mode, profile_name
		ORDER BY human_score DESC, duration_ms ASC
	) AS rn
	FROM session_results
	WHERE mode = $1
) best
WHERE rn = 1
ORDER BY human_score DESC, duration_ms ASC, player_id ASC
LIMIT $2`, string(mode), limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []domain.LeaderboardEntry
	for rows.Next() {
		entry := domain.LeaderboardEntry{Rank: len(out) + 1, Mode: mode}
		if err := rows.Scan(&entry.PlayerID, &entry.Nickname, &entry.ProfileName, &entry.BestScore, &entry.DurationMs); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
