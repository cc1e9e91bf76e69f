package redis

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/domain"
)

// AnswerKeyCache keeps each battle's answer key in a Redis hash and falls
// back to a question loader on miss:
//
//	HSET battle:{battleID}:answers {questionIndex} {correctAnswer}
//
// Question lists are immutable after battle creation, so cached keys are
// only ever expired, never invalidated.
type AnswerKeyCache struct {
	client *redis.Client
	loader app.QuestionSource
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewAnswerKeyCache(client *redis.Client, loader app.QuestionSource, ttl time.Duration) *AnswerKeyCache {
	return &AnswerKeyCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *AnswerKeyCache) CorrectAnswer(ctx context.Context, battleID string, questionIndex int) (string, error) {
	key := c.answersKey(battleID)

	cached, err := c.client.HGetAll(ctx, key).Result()
	if err == nil && len(cached) > 0 {
		return answerFromHash(cached, questionIndex)
	}

	result, err, _ := c.sf.Do(battleID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		cached, err := c.client.HGetAll(ctx, key).Result()
		if err == nil && len(cached) > 0 {
			return cached, nil
		}

		questions, err := c.loader.Questions(ctx, battleID)
		if err != nil {
			return nil, err
		}

		fields := make(map[string]string, len(questions))
		for i, q := range questions {
			fields[strconv.Itoa(i)] = q.CorrectAnswer
		}

		pipe := c.client.Pipeline()
		for field, answer := range fields {
			pipe.HSet(ctx, key, field, answer)
		}
		if ttl := c.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return fields, nil
	})
	if err != nil {
		return "", err
	}
	return answerFromHash(result.(map[string]string), questionIndex)
}

func (c *AnswerKeyCache) answersKey(battleID string) string {
	return "battle:" + battleID + ":answers"
}

func answerFromHash(fields map[string]string, index int) (string, error) {
	answer, ok := fields[strconv.Itoa(index)]
	if !ok {
		return "", domain.ErrQuestionNotFound
	}
	return answer, nil
}

func (c *AnswerKeyCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
