package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores items as plain string keys under a prefix. The prefix set
// "<prefix>:keys" indexes them so the quota can be computed.
type Redis struct {
	client *redis.Client
	prefix string
	quota  int64
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("storage/redis: ping: %w", err)
	}
	return client, nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string, quota int64) *Redis {
	if prefix == "" {
		prefix = "fiscal"
	}
	return &Redis{client: client, prefix: prefix, quota: quota}
}

func (r *Redis) key(k string) string {
	return r.prefix + ":item:" + k
}

func (r *Redis) indexKey() string {
	return r.prefix + ":keys"
}

// GetItem implements Storage.
func (r *Redis) GetItem(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage/redis: get %q: %w", key, err)
	}
	return v, true, nil
}

// SetItem implements Storage.
func (r *Redis) SetItem(ctx context.Context, key, value string) error {
	if r.quota > 0 {
		used, replaced, err := r.usage(ctx, key)
		if err != nil {
			return err
		}
		if err := checkQuota(r.quota, used, replaced, key, value); err != nil {
			return err
		}
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(key), value, 0)
		pipe.SAdd(ctx, r.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage/redis: set %q: %w", key, err)
	}
	return nil
}

func (r *Redis) usage(ctx context.Context, key string) (used, replaced int64, err error) {
	keys, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("storage/redis: index: %w", err)
	}
	if len(keys) == 0 {
		return 0, 0, nil
	}

	cmds := make([]*redis.IntCmd, len(keys))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.StrLen(ctx, r.key(k))
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("storage/redis: strlen: %w", err)
	}
	for i, k := range keys {
		size := int64(len(k)) + cmds[i].Val()
		used += size
		if k == key {
			replaced = size
		}
	}
	return used, replaced, nil
}
