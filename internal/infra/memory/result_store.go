package memory

import (
	"context"
	"sort"
	"sync"

	"versus-quiz-service/internal/domain"
)

// ResultStore keeps finished rounds and sessions in memory.
type ResultStore struct {
	mu       sync.RWMutex
	rounds   []domain.RoundRecord
	sessions []domain.SessionResult
}

func NewResultStore() *ResultStore {
	return &ResultStore{}
}

func (s *ResultStore) SaveRound(_ context.Context, record domain.RoundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds = append(s.rounds, record)
	return nil
}

func (s *ResultStore) SaveSession(_ context.Context, result domain.SessionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, result)
	return nil
}

// Rounds returns the stored rounds of a session in resolution order.
func (s *ResultStore) Rounds(sessionID string) []domain.RoundRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RoundRecord
	for _, r := range s.rounds {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}

// Sessions returns every stored session result.
func (s *ResultStore) Sessions() []domain.SessionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SessionResult(nil), s.sessions...)
}

// Leaderboard keeps each player's best session per opponent profile. Equal
// scores rank the faster session first.
func (s *ResultStore) Leaderboard(_ context.Context, mode domain.GameMode, limit int) ([]domain.LeaderboardEntry, error) {
	type key struct{ player, profile string }

	s.mu.RLock()
	best := make(map[key]domain.SessionResult)
	for _, res := range s.sessions {
		if res.Mode != mode {
			continue
		}
		k := key{res.PlayerID, res.ProfileName}
		if cur, ok := best[k]; !ok || better(res, cur) {
			best[k] = res
		}
	}
	s.mu.RUnlock()

	ranked := make([]domain.SessionResult, 0, len(best))
	for _, res := range best {
		ranked = append(ranked, res)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if better(a, b) != better(b, a) {
			return better(a, b)
		}
		return a.PlayerID < b.PlayerID
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]domain.LeaderboardEntry, 0, len(ranked))
	for i, res := range ranked {
		out = append(out, domain.LeaderboardEntry{
			Rank:        i + 1,
			PlayerID:    res.PlayerID,
			Nickname:    res.Nickname,
			Mode:        res.Mode,
			ProfileName: res.ProfileName,
			BestScore:   res.HumanScore,
			DurationMs:  res.Duration.Milliseconds(),
		})
	}
	return out, nil
}

func better(a, b domain.SessionResult) bool {
	if a.HumanScore != b.HumanScore {
		return a.HumanScore > b.HumanScore
	}
	return a.Duration < b.Duration
}
