package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
	"versus-quiz-service/internal/domain"
)

// QuestionLoader fetches question content from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// QuestionRepository caches questions with TTL to avoid repeated DB hits.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  clockwork.Clock
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedQuestion
}

type cachedQuestion struct {
	question  domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration, clock clockwork.Clock) *QuestionRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  clock,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuestion),
	}
}

func (r *QuestionRepository) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	if q, ok := r.cached(questionID); ok {
		return q, nil
	}

	result, err, _ := r.sf.Do(questionID, func() (interface{}, error) {
		if q, ok := r.cached(questionID); ok {
			return q, nil
		}

		question, err := r.loader.LoadQuestion(ctx, questionID)
		if err != nil {
			return domain.Question{}, err
		}

		r.mu.Lock()
		r.cache[questionID] = cachedQuestion{
			question:  question,
			expiresAt: r.clock.Now().Add(r.ttlWithJitterLocked()),
		}
		r.mu.Unlock()
		return question, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (r *QuestionRepository) cached(questionID string) (domain.Question, bool) {
	now := r.clock.Now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.cache[questionID]; ok && entry.expiresAt.After(now) {
		return entry.question, true
	}
	return domain.Question{}, false
}

func (r *QuestionRepository) ttlWithJitterLocked() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticQuestionLoader struct {
	questions map[string]domain.Question
}

func NewStaticQuestionLoader(questions []domain.Question) *StaticQuestionLoader {
	byID := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	return &StaticQuestionLoader{questions: byID}
}

func (l *StaticQuestionLoader) LoadQuestion(_ context.Context, questionID string) (domain.Question, error) {
	if q, ok := l.questions[questionID]; ok {
		return q, nil
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}
