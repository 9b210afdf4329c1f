package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis keeps keys as plain string values under a common prefix. A Reset is
// a single SET and therefore atomic for readers.
type Redis struct {
	client redis.Cmdable
	prefix string
}

func NewRedis(client redis.Cmdable, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(name string) string {
	return r.prefix + name
}

func (r *Redis) Get(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	value, err := r.client.Get(ctx, r.key(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("secrets: redis get %s: %w", name, err)
	}
	return value, nil
}

func (r *Redis) Reset(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	key, err := newKey()
	if err != nil {
		return nil, err
	}
	if err := r.client.Set(ctx, r.key(name), key, 0).Err(); err != nil {
		Wipe(key)
		return nil, fmt.Errorf("secrets: redis set %s: %w", name, err)
	}
	return key, nil
}
