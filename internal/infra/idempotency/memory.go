package idempotency

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/totegamma/aswan/internal/domain"
)

// MemoryStore keeps results in process. It gives read-your-writes for a single
// gateway instance only.
type MemoryStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewMemoryStore keeps entries for ttl; zero keeps them forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = 2 * ttl
	}
	return &MemoryStore{
		cache: cache.New(expiration, cleanup),
		ttl:   expiration,
	}
}

func (s *MemoryStore) HasResult(ctx context.Context, credentialID, subjectID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	value, found := s.cache.Get(Key(credentialID, subjectID))
	if !found {
		return false, nil
	}
	return matches(value.(string), subjectID), nil
}

func (s *MemoryStore) RecordResult(ctx context.Context, credentialID, subjectID string, outcome domain.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Set(Key(credentialID, subjectID), encode(subjectID, outcome), s.ttl)
	return nil
}
