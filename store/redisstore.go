package store

import (
	"secwaf/waf"

	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore is a waf.PersistentStore backed by Redis, for sharing the IP, SESSION, USER,
// GLOBAL and RESOURCE collections between server instances. Entries live under
// "<prefix>:<collection>:<key>" and carry their metadata as JSON.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

type redisEntry struct {
	Value      []byte    `json:"value"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	TTLSeconds int64     `json:"ttl_seconds"`
}

var ctx = context.Background()

// NewRedisStore connects to Redis and returns the store. The connection is verified with a ping.
func NewRedisStore(logger zerolog.Logger, addr string, password string, db int, prefix string) (*RedisStore, error) {
	logger.Info().Str("addr", addr).Int("db", db).Msg("Connecting to Redis collection store")

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("could not connect to Redis at %v: %v", addr, err)
	}

	if prefix == "" {
		prefix = "secwaf"
	}

	return &RedisStore{client: client, prefix: prefix, logger: logger}, nil
}

func (s *RedisStore) redisKey(collection string, key string) string {
	return s.prefix + ":" + collection + ":" + key
}

// Get returns the entry, or nil when absent. Redis expiry removes stale entries for us.
func (s *RedisStore) Get(collection string, key string) (*waf.StoreEntry, error) {
	data, err := s.client.Get(ctx, s.redisKey(collection, key)).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to get collection entry from Redis")
		return nil, err
	}

	var e redisEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal collection entry")
		return nil, err
	}

	return &waf.StoreEntry{
		Value:      e.Value,
		CreatedAt:  e.CreatedAt,
		LastUsedAt: e.LastUsedAt,
		TTL:        time.Duration(e.TTLSeconds) * time.Second,
	}, nil
}

// Put stores a value with a time-to-live, carried both in the entry and as the Redis key expiry.
func (s *RedisStore) Put(collection string, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	e := redisEntry{
		Value:      value,
		CreatedAt:  now,
		LastUsedAt: now,
		TTLSeconds: int64(ttl / time.Second),
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	if ttl < 0 {
		ttl = 0
	}

	return s.client.Set(ctx, s.redisKey(collection, key), data, ttl).Err()
}

// Delete removes an entry.
func (s *RedisStore) Delete(collection string, key string) error {
	return s.client.Del(ctx, s.redisKey(collection, key)).Err()
}

// KeysMatching scans the collection's keys and filters them with the regex.
func (s *RedisStore) KeysMatching(collection string, pattern string) ([]string, error) {
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	prefix := s.prefix + ":" + collection + ":"
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()[len(prefix):]
		if rx.MatchString(key) {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

// Expire sets the moment after which the entry is gone, via Redis key expiry.
func (s *RedisStore) Expire(collection string, key string, at time.Time) error {
	return s.client.ExpireAt(ctx, s.redisKey(collection, key), at).Err()
}
