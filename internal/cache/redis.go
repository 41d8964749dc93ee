package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares cached values between instances. Keys are stored under
// namespace + ":" + key.
type Redis struct {
	client redis.UniversalClient
	ns     string
}

func NewRedis(client redis.UniversalClient, namespace string) *Redis {
	if namespace == "" {
		namespace = "psyportal"
	}
	return &Redis{client: client, ns: namespace + ":"}
}

func (r *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	b, err := r.client.Get(ctx, r.ns+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, decode(b, dst)
}

func (r *Redis) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := encode(v)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.ns+key, b, ttl).Err()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// DeletePrefix walks matching keys with SCAN and deletes them in batches.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, globEscaper.Replace(r.ns+prefix)+"*", 200).Iterator()
	batch := make([]string, 0, 200)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return r.client.Del(ctx, batch...).Err()
	}
	return nil
}

// Ping reports whether the server is reachable.
func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }
