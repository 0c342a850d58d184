package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/navikt/polly-sub000/pkg/errors"
)

// Default timeouts for Redis operations.
const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// redisKeyPrefix namespaces session keys so the instance can share a Redis
// database with other applications.
const redisKeyPrefix = "polly:session:"

// RedisStore is a Redis-backed Store for multi-instance deployments.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis using a redis:// or rediss:// URL and
// verifies the connection before returning.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = defaultDialTimeout
	opts.ReadTimeout = defaultReadTimeout
	opts.WriteTimeout = defaultWriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps a pre-configured client. Useful for testing
// with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// Put inserts or replaces a session.
func (s *RedisStore) Put(ctx context.Context, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return s.client.Set(ctx, redisKey(sess.ID), data, 0).Err()
}

// Get returns a session by id.
func (s *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	data, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return Session{}, errors.NewNotFoundError("session not found", nil)
		}
		return Session{}, fmt.Errorf("failed to get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return sess, nil
}

// Update replaces an existing session. SET XX keeps the replace atomic with
// respect to concurrent readers of the same key.
func (s *RedisStore) Update(ctx context.Context, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	set, err := s.client.SetXX(ctx, redisKey(sess.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if !set {
		return errors.NewNotFoundError("session not found", nil)
	}
	return nil
}

// TouchLastActive refreshes only the session's activity timestamp. The key
// is watched so a concurrent write (activation, termination) aborts the
// refresh instead of being overwritten with stale fields; the loser of such
// a race simply skips the refresh.
func (s *RedisStore) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	key := redisKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if stderrors.Is(err, redis.Nil) {
				return errors.NewNotFoundError("session not found", nil)
			}
			return fmt.Errorf("failed to get session: %w", err)
		}

		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		sess.LastActiveAt = at

		updated, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)
	if stderrors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// DeleteIdleSince scans the session keyspace and removes idle sessions.
func (s *RedisStore) DeleteIdleSince(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if stderrors.Is(err, redis.Nil) {
				continue
			}
			return removed, fmt.Errorf("failed to get session during sweep: %w", err)
		}

		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			// Unreadable rows are swept too.
			_ = s.client.Del(ctx, key).Err()
			continue
		}
		if sess.LastActiveAt.Before(cutoff) {
			n, err := s.client.Del(ctx, key).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to delete session during sweep: %w", err)
			}
			removed += int(n)
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return removed, nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
