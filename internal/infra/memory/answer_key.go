package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/domain"
)

// AnswerKeyCache caches each battle's answer key (question index -> correct
// answer) with a TTL, loading from a question source on miss. Questions are
// immutable after creation, so entries only ever expire.
type AnswerKeyCache struct {
	loader app.QuestionSource
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedKey
}

type cachedKey struct {
	answers   []string
	expiresAt time.Time
}

func NewAnswerKeyCache(loader app.QuestionSource, ttl time.Duration) *AnswerKeyCache {
	return &AnswerKeyCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedKey),
	}
}

func (c *AnswerKeyCache) CorrectAnswer(ctx context.Context, battleID string, questionIndex int) (string, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[battleID]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return answerAt(entry.answers, questionIndex)
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(battleID, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[battleID]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.answers, nil
		}
		c.mu.RUnlock()

		questions, err := c.loader.Questions(ctx, battleID)
		if err != nil {
			return nil, err
		}
		answers := make([]string, len(questions))
		for i, q := range questions {
			answers[i] = q.CorrectAnswer
		}

		c.mu.Lock()
		c.cache[battleID] = cachedKey{
			answers:   answers,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return answers, nil
	})
	if err != nil {
		return "", err
	}
	return answerAt(result.([]string), questionIndex)
}

func answerAt(answers []string, index int) (string, error) {
	if index < 0 || index >= len(answers) {
		return "", domain.ErrQuestionNotFound
	}
	return answers[index], nil
}

func (c *AnswerKeyCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
