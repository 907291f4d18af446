// Package storetest provides store constructors for tests.
package storetest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/observatory/internal/store"
)

// NewRedisStore returns a RedisStore backed by an in-process miniredis.
// The miniredis handle is returned so tests can inspect keys and move time.
func NewRedisStore(t *testing.T) (*store.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
	})

	return store.NewRedisStoreFromClient(client), mr
}
