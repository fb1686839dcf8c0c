package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gcagle911/ADA-logger/internal/feed"
)

// RedisCache stores the last sample per symbol in Redis. Writes also go to
// an in-memory copy that serves reads when Redis is unavailable.
type RedisCache struct {
	rdb *redis.Client
	mem *MemoryCache
	ttl time.Duration
}

type redisSample struct {
	Timestamp    int64   `json:"ts"` // unix nano timestamp
	Asset        string  `json:"asset"`
	Exchange     string  `json:"exchange"`
	Price        float64 `json:"price"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Spread       float64 `json:"spread"`
	Volume       float64 `json:"volume"`
	SpreadAvg    float64 `json:"spread_avg"`
	SpreadAvgPct float64 `json:"spread_avg_pct"`
	DepthLevels  int     `json:"depth_levels"`
}

// NewRedisCache creates a new RedisCache instance and pings Redis server.
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisCache(rdb, ttl), nil
}

func newRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{rdb: rdb, mem: NewMemoryCache(), ttl: ttl}
}

func lastKey(symbol string) string { return "last:" + strings.ToUpper(symbol) }

// SetLast stores s in Redis. The memory copy is always updated.
func (r *RedisCache) SetLast(ctx context.Context, symbol string, s feed.Sample) error {
	_ = r.mem.SetLast(ctx, symbol, s)

	b, err := json.Marshal(redisSample{
		Timestamp:    s.Timestamp.UnixNano(),
		Asset:        s.Asset,
		Exchange:     s.Exchange,
		Price:        s.Price,
		Bid:          s.Bid,
		Ask:          s.Ask,
		Spread:       s.Spread,
		Volume:       s.Volume,
		SpreadAvg:    s.SpreadAvg,
		SpreadAvgPct: s.SpreadAvgPct,
		DepthLevels:  s.DepthLevels,
	})
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, lastKey(symbol), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set last sample in Redis for %s, using memory cache: %w", symbol, err)
	}
	return nil
}

// GetLast fetches the last sample from Redis, or from memory if Redis fails
func (r *RedisCache) GetLast(ctx context.Context, symbol string) (feed.Sample, error) {
	b, err := r.rdb.Get(ctx, lastKey(symbol)).Bytes()
	if err != nil {
		// redis.Nil included: a sample written while Redis was down lives only in memory
		return r.mem.GetLast(ctx, symbol)
	}

	var m redisSample
	if err := json.Unmarshal(b, &m); err != nil {
		return r.mem.GetLast(ctx, symbol)
	}
	return feed.Sample{
		Timestamp:    time.Unix(0, m.Timestamp).UTC(),
		Asset:        m.Asset,
		Exchange:     m.Exchange,
		Price:        m.Price,
		Bid:          m.Bid,
		Ask:          m.Ask,
		Spread:       m.Spread,
		Volume:       m.Volume,
		SpreadAvg:    m.SpreadAvg,
		SpreadAvgPct: m.SpreadAvgPct,
		DepthLevels:  m.DepthLevels,
	}, nil
}

// Close shuts down the Redis client
func (r *RedisCache) Close() error {
	return r.rdb.Close()
}
