// Package redisstore backs the xrail persistence collaborator and audit log
// with Redis: one hash per namespace, one stream for audit records.
package redisstore

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xrail/store"
)

// Store keeps each namespace in the hash <prefix>:<namespace>.
type Store struct {
	client    *redis.Client
	prefix    string
	opTimeout time.Duration
	owned     bool
	closed    atomic.Bool
}

var _ store.Store = (*Store)(nil)

// New connects to Redis and returns a Store owning the client.
func New(cfg Config) (*Store, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	s := NewWithClient(client, cfg)
	s.owned = true
	return s, nil
}

// NewWithClient wraps an existing client; Close leaves it open.
func NewWithClient(client *redis.Client, cfg Config) *Store {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = Defaults().OpTimeout
	}
	return &Store{client: client, prefix: cfg.Prefix, opTimeout: cfg.OpTimeout}
}

func (s *Store) key(ns string) string { return s.prefix + ":" + ns }

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.opTimeout)
}

func (s *Store) Get(ctx context.Context, ns, key string) ([]byte, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	b, err := s.client.HGet(ctx, s.key(ns), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	return b, err
}

func (s *Store) Put(ctx context.Context, ns, key string, value []byte) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.client.HSet(ctx, s.key(ns), key, value).Err()
}

func (s *Store) Delete(ctx context.Context, ns, key string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	n, err := s.client.HDel(ctx, s.key(ns), key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, ns string) ([]string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	keys, err := s.client.HKeys(ctx, s.key(ns)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Close() error {
	if s.closed.Swap(true) || !s.owned {
		return nil
	}
	return s.client.Close()
}
