package idempotency

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/totegamma/aswan/internal/domain"
)

// RedisStore shares results across gateway instances.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) HasResult(ctx context.Context, credentialID, subjectID string) (bool, error) {
	value, err := s.rdb.Get(ctx, Key(credentialID, subjectID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "RedisStore.HasResult")
	}
	return matches(value, subjectID), nil
}

func (s *RedisStore) RecordResult(ctx context.Context, credentialID, subjectID string, outcome domain.Outcome) error {
	err := s.rdb.Set(ctx, Key(credentialID, subjectID), encode(subjectID, outcome), s.ttl).Err()
	if err != nil {
		return errors.Wrap(err, "RedisStore.RecordResult")
	}
	return nil
}
