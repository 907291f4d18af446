package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/observatory/internal/metrics"
	"github.com/eldtechnologies/observatory/internal/models"
)

const roomIndexKey = "rooms:index"

// RedisStore is the KV adapter over Redis. It also serves as the default
// room registry backend.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func observe(start time.Time) {
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
}

// Get returns the value stored at key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	defer observe(time.Now())

	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

// Set stores value at key. A zero ttl means no expiry.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	defer observe(time.Now())
	return s.client.Set(ctx, key, value, ttl).Err()
}

// SetNX stores value at key only if the key is absent (SET NX EX).
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	defer observe(time.Now())
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

// Del removes keys.
func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	defer observe(time.Now())
	return s.client.Del(ctx, keys...).Err()
}

// ZAdd adds member to the sorted set at key.
func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	defer observe(time.Now())
	return s.client.ZAdd(ctx, key, redis.Z{
		Score:  score,
		Member: member,
	}).Err()
}

// ZRangeByScore returns members with min <= score <= max in ascending
// order. A zero count returns everything from offset.
func (s *RedisStore) ZRangeByScore(ctx context.Context, key, min, max string, offset, count int64) ([]string, error) {
	defer observe(time.Now())
	return s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    min,
		Max:    max,
		Offset: offset,
		Count:  count,
	}).Result()
}

// ZRemRangeByRank removes members by rank and returns how many were removed.
func (s *RedisStore) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (int64, error) {
	defer observe(time.Now())
	return s.client.ZRemRangeByRank(ctx, key, start, stop).Result()
}

// ZRemRangeByScore removes members by score and returns how many were removed.
func (s *RedisStore) ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error) {
	defer observe(time.Now())
	return s.client.ZRemRangeByScore(ctx, key, min, max).Result()
}

// SAdd adds members to the set at key.
func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	defer observe(time.Now())
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SAdd(ctx, key, args...).Err()
}

// SCard returns the number of members in the set at key.
func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	defer observe(time.Now())
	return s.client.SCard(ctx, key).Result()
}

// roomConfigKey returns the key holding a room's configuration.
func roomConfigKey(roomID string) string {
	return fmt.Sprintf("room:%s:config", roomID)
}

// GetRoom retrieves a room configuration.
func (s *RedisStore) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	data, err := s.Get(ctx, roomConfigKey(roomID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var room models.Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	return &room, nil
}

// CreateRoom stores the configuration with SET NX and indexes the room id.
func (s *RedisStore) CreateRoom(ctx context.Context, room *models.Room) (bool, error) {
	data, err := json.Marshal(room)
	if err != nil {
		return false, err
	}

	created, err := s.SetNX(ctx, roomConfigKey(room.RoomID), string(data), 0)
	if err != nil || !created {
		return false, err
	}

	if err := s.IndexRoom(ctx, room.RoomID); err != nil {
		return true, fmt.Errorf("%w: %s: %v", ErrIndexStale, roomIndexKey, err)
	}
	return true, nil
}

// IndexRoom adds a room id to the room index.
func (s *RedisStore) IndexRoom(ctx context.Context, roomID string) error {
	return s.SAdd(ctx, roomIndexKey, roomID)
}

// ListRoomIDs returns the members of the room index, sorted.
func (s *RedisStore) ListRoomIDs(ctx context.Context) ([]string, error) {
	defer observe(time.Now())

	ids, err := s.client.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
