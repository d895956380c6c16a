package launchctx

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore is an in-process Store for single-instance deployments and
// tests. Multi-instance deployments need the redis backend, since the token
// proxy and token hook must observe the same entries.
type MemoryStore struct {
	cache *ttlcache.Cache[string, Entry]
	ttl   time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	cache := ttlcache.New[string, Entry](
		ttlcache.WithTTL[string, Entry](ttl),
	)
	go cache.Start()
	return &MemoryStore{cache: cache, ttl: ttl}
}

func (s *MemoryStore) Put(_ context.Context, entry Entry) error {
	ttl := s.ttl
	if !entry.Expires.IsZero() {
		ttl = time.Until(entry.Expires)
	}
	s.cache.Set(entry.TokenID, entry, ttl)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tokenID string) (*Entry, error) {
	item := s.cache.Get(tokenID)
	if item == nil {
		return nil, nil
	}
	entry := item.Value()
	return &entry, nil
}

func (s *MemoryStore) Stop() {
	s.cache.Stop()
}
