package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	maxWatchRetries = 5

	// expiredGrace keeps a lapsed token readable so it reports Expired
	// rather than Invalid until it is evicted.
	expiredGrace = time.Hour
)

// RedisStore keeps tokens in Redis. Keys outlive the token by expiredGrace.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(token string) string {
	return fmt.Sprintf("%s:token:%s", s.prefix, token)
}

func keyTTL(expiresAt, now time.Time) time.Duration {
	return expiresAt.Sub(now) + expiredGrace
}

func (s *RedisStore) Put(ctx context.Context, r Record) error {
	ttl := keyTTL(r.ExpiresAt, time.Now())
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(r.Token), b, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, token string) (Record, error) {
	return s.get(ctx, s.client, s.key(token))
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter, key string) (Record, error) {
	b, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("corrupt token record %s: %w", key, err)
	}
	return r, nil
}

// Update runs fn under WATCH so concurrent consumers cannot both pass the cap
func (s *RedisStore) Update(ctx context.Context, token string, fn func(r *Record) error) (Record, error) {
	key := s.key(token)
	var out Record

	txf := func(tx *redis.Tx) error {
		r, err := s.get(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := fn(&r); err != nil {
			out = r
			return err
		}
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, redis.KeepTTL)
			return nil
		})
		if err == nil {
			out = r
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return out, err
	}
	return out, fmt.Errorf("token %s: too much contention", token)
}

func (s *RedisStore) Delete(ctx context.Context, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}
	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = s.key(t)
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Scan(ctx context.Context, fn func(r Record) bool) error {
	iter := s.client.Scan(ctx, 0, s.key("*"), 100).Iterator()
	for iter.Next(ctx) {
		r, err := s.get(ctx, s.client, iter.Val())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !fn(r) {
			return nil
		}
	}
	return iter.Err()
}
