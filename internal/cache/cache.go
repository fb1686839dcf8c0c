// Package cache keeps the last appended sample of every asset for the status
// endpoints. It is never authoritative for data.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/gcagle911/ADA-logger/internal/config"
	"github.com/gcagle911/ADA-logger/internal/feed"
)

// ErrNotFound is returned when no sample is cached for a symbol
var ErrNotFound = errors.New("not found")

// Cache stores the last sample per asset symbol
type Cache interface {
	SetLast(ctx context.Context, symbol string, s feed.Sample) error
	GetLast(ctx context.Context, symbol string) (feed.Sample, error)
	Close() error
}

// MemoryCache is an in-process Cache
type MemoryCache struct {
	mu   sync.RWMutex
	last map[string]feed.Sample
}

// NewMemoryCache creates an empty in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{last: make(map[string]feed.Sample)}
}

// SetLast records s as the latest sample of symbol
func (m *MemoryCache) SetLast(ctx context.Context, symbol string, s feed.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[strings.ToUpper(symbol)] = s
	return nil
}

// GetLast returns the latest sample of symbol
func (m *MemoryCache) GetLast(ctx context.Context, symbol string) (feed.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.last[strings.ToUpper(symbol)]
	if !ok {
		return feed.Sample{}, ErrNotFound
	}
	return s, nil
}

// Close is a no-op
func (m *MemoryCache) Close() error { return nil }

// Open returns a Redis cache when an address is configured and reachable,
// otherwise an in-memory cache.
func Open(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) Cache {
	if cfg.Addr == "" {
		return NewMemoryCache()
	}
	rc, err := NewRedisCache(ctx, cfg.Addr, cfg.Password, cfg.DB, cfg.TTL)
	if err != nil {
		logger.Warn("redis unavailable, using memory cache", "addr", cfg.Addr, "err", err)
		return NewMemoryCache()
	}
	logger.Info("using redis cache", "addr", cfg.Addr)
	return rc
}
