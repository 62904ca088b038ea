package idempotency

import (
	"context"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"

	"github.com/totegamma/aswan/internal/domain"
)

// MemcachedStore shares results across instances through memcached. The client
// is not context aware, so cancellation is only observed between calls.
type MemcachedStore struct {
	client *memcache.Client
	ttl    time.Duration
}

func NewMemcachedStore(client *memcache.Client, ttl time.Duration) *MemcachedStore {
	return &MemcachedStore{client: client, ttl: ttl}
}

func (s *MemcachedStore) HasResult(ctx context.Context, credentialID, subjectID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	item, err := s.client.Get(Key(credentialID, subjectID))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "MemcachedStore.HasResult")
	}
	return matches(string(item.Value), subjectID), nil
}

func (s *MemcachedStore) RecordResult(ctx context.Context, credentialID, subjectID string, outcome domain.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.client.Set(&memcache.Item{
		Key:        Key(credentialID, subjectID),
		Value:      []byte(encode(subjectID, outcome)),
		Expiration: expiration(s.ttl),
	})
	if err != nil {
		return errors.Wrap(err, "MemcachedStore.RecordResult")
	}
	return nil
}

// memcached reads relative expirations above 30 days as unix timestamps.
func expiration(ttl time.Duration) int32 {
	const relativeLimit = 30 * 24 * time.Hour
	if ttl <= 0 {
		return 0
	}
	if ttl > relativeLimit {
		return int32(time.Now().Add(ttl).Unix())
	}
	return int32(ttl / time.Second)
}
