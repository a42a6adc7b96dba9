package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists the throttle state.
type Store interface {
	// Load returns the current state. A missing state is not an error.
	Load(ctx context.Context) (*ThrottleState, error)

	// Record extends the throttle window to until.
	Record(ctx context.Context, until time.Time) (*ThrottleState, error)
}

// MemoryStore keeps the state in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	state ThrottleState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context) (*ThrottleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	return &s, nil
}

// Record implements Store.
func (m *MemoryStore) Record(_ context.Context, until time.Time) (*ThrottleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Extend(until, time.Now())
	s := m.state
	return &s, nil
}

// RedisStore shares the state across client instances through Redis.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context) (*ThrottleState, error) {
	until, err := r.redis.Get(ctx, RedisKeyThrottledUntil).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get throttled until: %w", err)
	}

	count, err := r.redis.Get(ctx, RedisKeyThrottleCount).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get throttle count: %w", err)
	}

	lastUpdateStr, err := r.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	state := &ThrottleState{Throttles: count}
	if until > 0 {
		state.ThrottledUntil = time.UnixMilli(until)
	}
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &state.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	return state, nil
}

// extendScript only ever moves the window forward so concurrent writers
// cannot shorten it.
var extendScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local proposed = tonumber(ARGV[1])
if proposed > current then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
end
redis.call("INCR", KEYS[2])
redis.call("SET", KEYS[3], ARGV[3])
return 1
`)

// Record implements Store.
func (r *RedisStore) Record(ctx context.Context, until time.Time) (*ThrottleState, error) {
	now := time.Now()

	lastUpdateJSON, err := json.Marshal(now)
	if err != nil {
		return nil, fmt.Errorf("marshal last update: %w", err)
	}

	// The key expires shortly after the window so stale state never blocks.
	ttl := time.Until(until) + time.Second
	if ttl < time.Second {
		ttl = time.Second
	}

	keys := []string{RedisKeyThrottledUntil, RedisKeyThrottleCount, RedisKeyLastUpdate}
	if err := extendScript.Run(ctx, r.redis, keys, until.UnixMilli(), ttl.Milliseconds(), string(lastUpdateJSON)).Err(); err != nil {
		return nil, fmt.Errorf("store throttle state in redis: %w", err)
	}

	return r.Load(ctx)
}
