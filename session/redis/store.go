// Package redis provides a core.SessionStore keeping history snapshots in
// Redis, for deployments where several processes resume the same sessions.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hupe1980/personamesh/core"
)

// DefaultPrefix namespaces all keys written by the store.
const DefaultPrefix = "personas"

// Options configures a Store.
type Options struct {
	// Prefix namespaces the keys; defaults to DefaultPrefix.
	Prefix string
	// TTL expires idle snapshots; zero keeps them forever.
	TTL time.Duration
}

// Store handles snapshot persistence in Redis.
type Store struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

var _ core.SessionStore = (*Store)(nil)

// NewStore connects to redisURL and verifies the connection.
func NewStore(ctx context.Context, redisURL string, optFns ...func(o *Options)) (*Store, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := goredis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewStoreFromClient(client, optFns...), nil
}

// NewStoreFromClient wraps an existing client.
func NewStoreFromClient(client *goredis.Client, optFns ...func(o *Options)) *Store {
	o := Options{Prefix: DefaultPrefix}
	for _, fn := range optFns {
		fn(&o)
	}

	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}

	return &Store{client: client, prefix: o.Prefix, ttl: o.TTL}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// snapshotKey returns the key holding a session's encoded history.
func (s *Store) snapshotKey(sessionID string) string {
	return fmt.Sprintf("%s:snapshot:%s", s.prefix, sessionID)
}

// indexKey returns the key of the set of known session ids.
func (s *Store) indexKey() string {
	return s.prefix + ":sessions"
}

// Save stores data and records sessionID in the index.
func (s *Store) Save(ctx context.Context, sessionID string, data []byte) error {
	if sessionID == "" {
		return errors.New("save snapshot: empty session id")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.snapshotKey(sessionID), data, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), sessionID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot %s: %w", sessionID, err)
	}
	return nil
}

// Load returns the snapshot or core.ErrSessionNotFound.
func (s *Store) Load(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", sessionID, err)
	}
	return data, nil
}

// List returns the indexed session ids whose snapshot still exists, in
// lexical order. Ids of expired snapshots are pruned from the index.
func (s *Store) List(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(members))
	for _, id := range members {
		n, err := s.client.Exists(ctx, s.snapshotKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			if err := s.client.SRem(ctx, s.indexKey(), id).Err(); err != nil {
				return nil, fmt.Errorf("prune index entry %s: %w", id, err)
			}
			continue
		}
		ids = append(ids, id)
	}

	sort.Strings(ids)
	return ids, nil
}

// Delete removes a snapshot and its index entry.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.snapshotKey(sessionID))
	pipe.SRem(ctx, s.indexKey(), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}
