package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/personamesh/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("PERSONAS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PERSONAS_TEST_REDIS_URL not set")
	}

	prefix := "personas-test-" + uuid.NewString()

	s, err := NewStore(context.Background(), url, func(o *Options) { o.Prefix = prefix })
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		ids, _ := s.List(ctx)
		for _, id := range ids {
			_ = s.Delete(ctx, id)
		}
		_ = s.Close()
	})

	return s
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Load(ctx, "missing")
	require.ErrorIs(t, err, core.ErrSessionNotFound)

	require.NoError(t, s.Save(ctx, "b", []byte("two")))
	require.NoError(t, s.Save(ctx, "a", []byte("one")))

	got, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, s.Delete(ctx, "a"))

	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestKeys(t *testing.T) {
	s := NewStoreFromClient(nil, func(o *Options) { o.Prefix = "" })

	assert.Equal(t, "personas:snapshot:abc", s.snapshotKey("abc"))
	assert.Equal(t, "personas:sessions", s.indexKey())
}

func TestStore_ListPrunesMissingSnapshots(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Save(ctx, "kept", []byte("one")))
	require.NoError(t, s.Save(ctx, "gone", []byte("two")))
	require.NoError(t, s.client.Del(ctx, s.snapshotKey("gone")).Err())

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, ids)

	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, members)
}

func TestStore_ListReportsRedisErrors(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	s := NewStoreFromClient(client)

	_, err := s.List(context.Background())
	require.Error(t, err)
}
