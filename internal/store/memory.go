package store

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore backs the service in tests and local development.
type MemoryStore struct {
	cache *ttlcache.Cache[string, string]
}

func OpenMemory() *MemoryStore {
	cache := ttlcache.New[string, string](
		// reads must not extend a status's lifetime
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()
	return &MemoryStore{cache: cache}
}

func (s *MemoryStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	s.cache.Set(key, value, ttl)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	item := s.cache.Get(key)
	if item == nil {
		return "", false, nil
	}
	return item.Value(), true, nil
}

func (s *MemoryStore) Close() error {
	s.cache.Stop()
	return nil
}
