//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	grantkit "github.com/grantkit/grantkit"
	"github.com/grantkit/grantkit/memstore"
	"github.com/grantkit/grantkit/redistore"
)

// redisMode describes which Redis backend the integration suite runs against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the set of Redis backends to test.
// miniredis is always available.
// Real Redis standalone is used when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				// Flush the test DB to avoid state leaking between runs.
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}
	return modes
}

// backendMode describes one storage backend under the shared contract suite.
type backendMode struct {
	name  string
	setup func(t *testing.T) (grantkit.Storage, func())
}

// backendModes returns every storage backend the contract suite covers: the
// in-memory store plus each available Redis variant. Both share a token key
// so continuation tokens are comparable in shape, though never across
// backends.
func backendModes(t *testing.T) []backendMode {
	t.Helper()
	key := []byte("integration-token-key")

	modes := []backendMode{
		{
			name: "memstore",
			setup: func(t *testing.T) (grantkit.Storage, func()) {
				t.Helper()
				return memstore.New(memstore.WithTokenKey(key)), func() {}
			},
		},
	}
	for _, rm := range redisModes(t) {
		rm := rm
		modes = append(modes, backendMode{
			name: "redistore/" + rm.name,
			setup: func(t *testing.T) (grantkit.Storage, func()) {
				t.Helper()
				rdb, done := rm.setup(t)
				return redistore.New(rdb, "gkit", redistore.WithTokenKey(key)), done
			},
		})
	}
	return modes
}

func newRedisStoreForMode(rdb redis.UniversalClient) *redistore.Store {
	return redistore.New(rdb, "gkit")
}

func mustGrant(t *testing.T, effect grantkit.Effect, action, resource, principal string) grantkit.Grant {
	t.Helper()
	g, err := grantkit.NewGrant(effect, action, resource, principal, "")
	if err != nil {
		t.Fatalf("NewGrant failed: %v", err)
	}
	return g
}
