package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisNamespace = "trustindex:"
	scanBatchSize         = 256
)

// RedisKV stores entries as plain Redis strings under a namespace prefix.
type RedisKV struct {
	client    *redis.Client
	namespace string
}

type RedisOption func(*RedisKV)

// WithNamespace overrides the key prefix shared by every entry.
func WithNamespace(ns string) RedisOption {
	return func(r *RedisKV) {
		r.namespace = ns
	}
}

// NewRedisKV wraps client. The client lifecycle is managed by the caller.
func NewRedisKV(client *redis.Client, opts ...RedisOption) *RedisKV {
	r := &RedisKV{
		client:    client,
		namespace: defaultRedisNamespace,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.namespace+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.namespace+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// SetMany writes all entries in one MULTI/EXEC round trip.
func (r *RedisKV) SetMany(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for k, v := range entries {
		pipe.Set(ctx, r.namespace+k, v, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set batch: %w", err)
	}
	return nil
}

// Enumerate walks matching keys with SCAN and fetches values with MGET.
func (r *RedisKV) Enumerate(ctx context.Context, prefix string) ([]Entry, error) {
	match := escapeGlob(r.namespace+prefix) + "*"

	var keys []string
	iter := r.client.Scan(ctx, 0, match, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
	}

	out := make([]Entry, 0, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget %s: %w", prefix, err)
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// deleted between SCAN and MGET
			continue
		}
		out = append(out, Entry{Key: strings.TrimPrefix(keys[i], r.namespace), Value: s})
	}
	sortEntries(out)
	return out, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
