// Package matchcache implements an optional cache of match verdicts in
// front of the network engine, so repeated requests for the same
// (url, source, type) triple skip re-running the index scan. The index is
// already fast on its own, but a host embedding it at request-interception
// volume benefits from a cache layer in front of it.
package matchcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"ruleengine/internal/reqmodel"
	"ruleengine/internal/verdict"
)

// CachedVerdict is the serializable projection of a verdict.MatchingResult
// that gets cached: the live rule pointers themselves aren't round-tripped
// through the cache, since a restart invalidates storage indexes anyway.
type CachedVerdict struct {
	Blocking    bool     `json:"blocking"`
	Allowlisted bool     `json:"allowlisted"`
	CSP         []string `json:"csp,omitempty"`
	Replace     []string `json:"replace,omitempty"`
	Redirect    string   `json:"redirect,omitempty"`
	Stealth     []string `json:"stealth,omitempty"`
	HasCookie   bool     `json:"has_cookie,omitempty"`
}

// FromMatchingResult projects a full MatchingResult into its cacheable form.
func FromMatchingResult(r verdict.MatchingResult) CachedVerdict {
	return CachedVerdict{
		Blocking:    r.IsBlocking(),
		Allowlisted: r.Allowlisted,
		CSP:         r.Modifiers.CSP,
		Replace:     r.Modifiers.Replace,
		Redirect:    r.Modifiers.Redirect,
		Stealth:     r.Modifiers.Stealth,
		HasCookie:   len(r.Modifiers.Cookie) > 0,
	}
}

// Key derives a cache key from a request's matching-relevant fields.
func Key(req *reqmodel.Request) string {
	h := xxhash.New()
	h.WriteString(req.URLLowercase)
	h.WriteString("|")
	h.WriteString(req.SourceHostname)
	h.WriteString("|")
	h.WriteString(strconv.Itoa(int(req.Type)))
	return strconv.FormatUint(h.Sum64(), 16)
}

// Store is the cache backend abstraction.
type Store interface {
	Get(key string) (CachedVerdict, bool)
	Put(key string, v CachedVerdict)
	Delete(key string)
	// Clear drops every cached verdict. The engine calls it whenever a
	// rule load repopulates the index, since stale verdicts would
	// otherwise outlive the rules that produced them.
	Clear()
}

// MemoryStore is an in-memory, TTL-expiring cache.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

type memoryEntry struct {
	value     CachedVerdict
	expiresAt time.Time
}

// NewMemoryStore builds an in-memory cache; ttl <= 0 disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), ttl: ttl}
}

func (s *MemoryStore) Get(key string) (CachedVerdict, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return CachedVerdict{}, false
	}
	if s.ttl > 0 && time.Now().After(e.expiresAt) {
		return CachedVerdict{}, false
	}
	return e.value, true
}

func (s *MemoryStore) Put(key string, v CachedVerdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: v, expiresAt: time.Now().Add(s.ttl)}
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]memoryEntry)
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore implements Store using Redis, for a multi-process host
// sharing one cache.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore creates a Redis-backed cache and verifies connectivity.
func NewRedisStore(cfg RedisConfig, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ruleengine:match:"
	}

	slog.Info("match cache redis store initialized", "addr", cfg.Addr, "key_prefix", prefix)
	return &RedisStore{client: client, keyPrefix: prefix, ttl: ttl}, nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.keyPrefix + key
}

func (s *RedisStore) Get(key string) (CachedVerdict, bool) {
	ctx := context.Background()
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err == redis.Nil {
		return CachedVerdict{}, false
	}
	if err != nil {
		slog.Error("match cache redis get error", "key", key, "error", err)
		return CachedVerdict{}, false
	}

	var v CachedVerdict
	if err := json.Unmarshal(data, &v); err != nil {
		slog.Error("match cache redis unmarshal error", "key", key, "error", err)
		return CachedVerdict{}, false
	}
	return v, true
}

func (s *RedisStore) Put(key string, v CachedVerdict) {
	ctx := context.Background()
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("match cache redis marshal error", "key", key, "error", err)
		return
	}
	if err := s.client.Set(ctx, s.redisKey(key), data, s.ttl).Err(); err != nil {
		slog.Error("match cache redis set error", "key", key, "error", err)
	}
}

func (s *RedisStore) Delete(key string) {
	ctx := context.Background()
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		slog.Error("match cache redis del error", "key", key, "error", err)
	}
}

// Clear scans and deletes every key under this store's prefix.
func (s *RedisStore) Clear() {
	ctx := context.Background()
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			slog.Error("match cache redis clear error", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		slog.Error("match cache redis scan error", "error", err)
	}
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
