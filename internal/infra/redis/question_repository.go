package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"versus-quiz-service/internal/domain"
)

// QuestionLoader fetches question content from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// QuestionRepository caches questions in Redis and falls back to a loader on cache miss.
// Questions are stored as: SET question:{questionID} {json}
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	if q, ok := r.cached(ctx, questionID); ok {
		return q, nil
	}

	result, err, _ := r.sf.Do(questionID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if q, ok := r.cached(ctx, questionID); ok {
			return q, nil
		}

		question, err := r.loader.LoadQuestion(ctx, questionID)
		if err != nil {
			return domain.Question{}, err
		}

		payload, err := json.Marshal(question)
		if err != nil {
			return domain.Question{}, err
		}
		// cache fill is best-effort
		_ = r.client.Set(ctx, r.key(questionID), payload, r.ttlWithJitter()).Err()
		return question, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (r *QuestionRepository) cached(ctx context.Context, questionID string) (domain.Question, bool) {
	raw, err := r.client.Get(ctx, r.key(questionID)).Bytes()
	if err != nil {
		return domain.Question{}, false
	}
	var q domain.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		// A corrupt entry is treated as a miss and overwritten.
		return domain.Question{}, false
	}
	return q, true
}

// Invalidate drops a cached question.
func (r *QuestionRepository) Invalidate(ctx context.Context, questionID string) error {
	return r.client.Del(ctx, r.key(questionID)).Err()
}

func (r *QuestionRepository) key(questionID string) string {
	return "question:" + questionID
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
