package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"quiz-battle-service/internal/domain"
)

type countingSource struct {
	calls     int
	questions []domain.Question
	err       error
}

func (s *countingSource) Questions(_ context.Context, _ string) ([]domain.Question, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.questions, nil
}

func newTestCache(t *testing.T, src *countingSource) (*AnswerKeyCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewAnswerKeyCache(client, src, time.Minute), mr
}

func TestAnswerKeyCachesInRedis(t *testing.T) {
	src := &countingSource{questions: []domain.Question{
		{Text: "q0", CorrectAnswer: "Paris"},
		{Text: "q1", CorrectAnswer: "4"},
	}}
	cache, mr := newTestCache(t, src)
	ctx := context.Background()

	answer, err := cache.CorrectAnswer(ctx, "b1", 0)
	if err != nil || answer != "Paris" {
		t.Fatalf("expected Paris, got %q %v", answer, err)
	}
	if src.calls != 1 {
		t.Fatalf("expected one load, got %d", src.calls)
	}

	// The hash is populated with a TTL.
	if got := mr.HGet("battle:b1:answers", "1"); got != "4" {
		t.Fatalf("expected cached answer 4, got %q", got)
	}
	if mr.TTL("battle:b1:answers") <= 0 {
		t.Fatalf("expected a TTL on the answers hash")
	}

	// Subsequent reads are served from Redis.
	answer, err = cache.CorrectAnswer(ctx, "b1", 1)
	if err != nil || answer != "4" {
		t.Fatalf("expected 4, got %q %v", answer, err)
	}
	if src.calls != 1 {
		t.Fatalf("expected cache hit, got %d loads", src.calls)
	}
}

func TestAnswerKeyReloadsAfterEviction(t *testing.T) {
	src := &countingSource{questions: []domain.Question{{Text: "q0", CorrectAnswer: "Mars"}}}
	cache, mr := newTestCache(t, src)
	ctx := context.Background()

	if _, err := cache.CorrectAnswer(ctx, "b1", 0); err != nil {
		t.Fatalf("first load: %v", err)
	}
	mr.FlushAll()
	if _, err := cache.CorrectAnswer(ctx, "b1", 0); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("expected reload after eviction, got %d loads", src.calls)
	}
}

func TestAnswerKeyUnknownIndex(t *testing.T) {
	src := &countingSource{questions: []domain.Question{{Text: "q0", CorrectAnswer: "a"}}}
	cache, _ := newTestCache(t, src)

	if _, err := cache.CorrectAnswer(context.Background(), "b1", 9); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
}

func TestAnswerKeyLoaderErrorNotCached(t *testing.T) {
	src := &countingSource{err: domain.ErrBattleNotFound}
	cache, _ := newTestCache(t, src)
	ctx := context.Background()

	if _, err := cache.CorrectAnswer(ctx, "missing", 0); !errors.Is(err, domain.ErrBattleNotFound) {
		t.Fatalf("expected battle not found, got %v", err)
	}
	src.err = nil
	src.questions = []domain.Question{{Text: "q0", CorrectAnswer: "a"}}
	if answer, err := cache.CorrectAnswer(ctx, "missing", 0); err != nil || answer != "a" {
		t.Fatalf("expected recovery, got %q %v", answer, err)
	}
}
