package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
)

type (
	MemoryStore struct {
		cache *bigcache.BigCache
	}
)

const (
	// bigcache needs a life window, this is long enough to never matter
	foreverish = 100 * 365 * 24 * time.Hour
)

// NewMemoryStore returns a process-local store, every session is lost
// when the process exits.
func NewMemoryStore(ctx context.Context, ttl time.Duration) (*MemoryStore, error) {
	life := ttl
	if life <= 0 {
		life = foreverish
	}
	cfg := bigcache.DefaultConfig(life)
	cfg.Shards = 64
	cfg.MaxEntriesInWindow = 10_000
	cfg.MaxEntrySize = 256
	cfg.CleanWindow = cleanWindow(life)
	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create in-memory session store, cause %w", err)
	}
	return &MemoryStore{
		cache: cache,
	}, nil
}

func (m *MemoryStore) Set(ctx context.Context, token string, entry []byte, _ time.Duration) error {
	return m.cache.Set(token, entry)
}

func (m *MemoryStore) Get(ctx context.Context, token string) ([]byte, bool, error) {
	buf, err := m.cache.Get(token)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return buf, true, nil
}

func (m *MemoryStore) Delete(ctx context.Context, token string) error {
	err := m.cache.Delete(token)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil
	}
	return err
}

func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

func (m *MemoryStore) Close() error {
	return m.cache.Close()
}

func cleanWindow(life time.Duration) time.Duration {
	switch {
	case life >= foreverish:
		return 0
	case life < time.Minute:
		return time.Second
	}
	return time.Minute
}
