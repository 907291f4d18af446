package store

import (
	"context"
	"errors"
	"time"

	"github.com/eldtechnologies/observatory/internal/models"
)

var (
	// ErrNotFound is returned by KV.Get when the key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrIndexStale is wrapped by writes whose primary record was stored
	// but whose secondary index update failed.
	ErrIndexStale = errors.New("index not updated")
)

// KV is the subset of a remote key-value store the relay relies on.
// RedisStore is the production implementation.
type KV interface {
	Ping(ctx context.Context) error

	// Plain keys
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error

	// Sorted sets
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRangeByScore(ctx context.Context, key, min, max string, offset, count int64) ([]string, error)
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (int64, error)
	ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error)

	// Sets
	SAdd(ctx context.Context, key string, members ...string) error
	SCard(ctx context.Context, key string) (int64, error)
}

// RoomStore persists room configurations. RedisStore, PostgresStore and
// SQLiteStore implement this interface.
type RoomStore interface {
	Ping(ctx context.Context) error

	// GetRoom returns (nil, nil) when the room does not exist.
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	// CreateRoom stores room only if no room with the same ID exists.
	// It reports false without writing when the ID is taken. When the room
	// is stored but not indexed it reports true with an ErrIndexStale error.
	CreateRoom(ctx context.Context, room *models.Room) (bool, error)
	// ListRoomIDs returns every room ID in ascending order.
	ListRoomIDs(ctx context.Context) ([]string, error)
}
