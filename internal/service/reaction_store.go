package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const reactionSeededField = "_seeded"

// ReactionThrottle limits how often a key may be used within a window.
type ReactionThrottle interface {
	// Allow reports whether key may proceed, claiming the window when it does.
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}

// ReactionCounterStore keeps monotonically increasing per-type counters.
type ReactionCounterStore interface {
	Seeded(ctx context.Context, streamID uint) (bool, error)
	// Seed installs persisted counts once. Later calls for the same stream are ignored.
	Seed(ctx context.Context, streamID uint, counts map[string]int64) error
	Increment(ctx context.Context, streamID uint, reactionType string) (int64, error)
	Counts(ctx context.Context, streamID uint) (map[string]int64, error)
}

func reactionCountsKey(streamID uint) string {
	return fmt.Sprintf("stream:%d:reactions:counts", streamID)
}

func reactionThrottleKey(streamID uint, actor, reactionType string) string {
	return fmt.Sprintf("stream:%d:reactions:throttle:%s:%s", streamID, actor, reactionType)
}

type redisReactionThrottle struct {
	client *redis.Client
}

// NewRedisReactionThrottle claims throttle windows with SET NX PX so every node
// shares them.
func NewRedisReactionThrottle(client *redis.Client) ReactionThrottle {
	return &redisReactionThrottle{client: client}
}

func (t *redisReactionThrottle) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	return t.client.SetNX(ctx, key, 1, window).Result()
}

type memoryReactionThrottle struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryReactionThrottle keeps throttle windows in process memory.
func NewMemoryReactionThrottle(now func() time.Time) ReactionThrottle {
	if now == nil {
		now = time.Now
	}
	return &memoryReactionThrottle{entries: make(map[string]time.Time), now: now}
}

func (t *memoryReactionThrottle) Allow(_ context.Context, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if expires, ok := t.entries[key]; ok && now.Before(expires) {
		return false, nil
	}
	t.entries[key] = now.Add(window)

	if len(t.entries) > 4096 {
		for k, expires := range t.entries {
			if !now.Before(expires) {
				delete(t.entries, k)
			}
		}
	}
	return true, nil
}

type redisReactionCounters struct {
	client *redis.Client
}

// NewRedisReactionCounters stores counters in the hash stream:{id}:reactions:counts.
func NewRedisReactionCounters(client *redis.Client) ReactionCounterStore {
	return &redisReactionCounters{client: client}
}

func (r *redisReactionCounters) Seeded(ctx context.Context, streamID uint) (bool, error) {
	return r.client.HExists(ctx, reactionCountsKey(streamID), reactionSeededField).Result()
}

func (r *redisReactionCounters) Seed(ctx context.Context, streamID uint, counts map[string]int64) error {
	key := reactionCountsKey(streamID)
	won, err := r.client.HSetNX(ctx, key, reactionSeededField, 1).Result()
	if err != nil || !won {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for reactionType, count := range counts {
			if count > 0 {
				pipe.HIncrBy(ctx, key, reactionType, count)
			}
		}
		return nil
	})
	return err
}

func (r *redisReactionCounters) Increment(ctx context.Context, streamID uint, reactionType string) (int64, error) {
	return r.client.HIncrBy(ctx, reactionCountsKey(streamID), reactionType, 1).Result()
}

func (r *redisReactionCounters) Counts(ctx context.Context, streamID uint) (map[string]int64, error) {
	values, err := r.client.HGetAll(ctx, reactionCountsKey(streamID)).Result()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(values))
	for field, raw := range values {
		if field == reactionSeededField {
			continue
		}
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse reaction count %s: %w", field, err)
		}
		counts[field] = parsed
	}
	return counts, nil
}

type memoryReactionCounters struct {
	mu      sync.Mutex
	streams map[uint]map[string]int64
}

// NewMemoryReactionCounters keeps counters in process memory.
func NewMemoryReactionCounters() ReactionCounterStore {
	return &memoryReactionCounters{streams: make(map[uint]map[string]int64)}
}

func (m *memoryReactionCounters) Seeded(_ context.Context, streamID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.streams[streamID]
	return ok, nil
}

func (m *memoryReactionCounters) Seed(_ context.Context, streamID uint, counts map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[streamID]; ok {
		return nil
	}
	seeded := make(map[string]int64, len(counts))
	for reactionType, count := range counts {
		seeded[reactionType] = count
	}
	m.streams[streamID] = seeded
	return nil
}

func (m *memoryReactionCounters) Increment(_ context.Context, streamID uint, reactionType string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts, ok := m.streams[streamID]
	if !ok {
		counts = make(map[string]int64)
		m.streams[streamID] = counts
	}
	counts[reactionType]++
	return counts[reactionType], nil
}

func (m *memoryReactionCounters) Counts(_ context.Context, streamID uint) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.streams[streamID]))
	for reactionType, count := range m.streams[streamID] {
		out[reactionType] = count
	}
	return out, nil
}
