package secrets

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zahash/mona/internal/config"
)

// Open builds the key store selected by cfg.
func Open(cfg config.SecretsConfig) (Store, error) {
	switch cfg.Backend {
	case config.SecretsRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return NewRedis(client, cfg.RedisPrefix), nil
	case config.SecretsDir, "":
		var opts []DirOption
		if cfg.AgeIdentity != "" {
			identity, err := LoadAgeIdentity(cfg.AgeIdentity)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithAgeIdentity(identity))
		}
		return NewDir(cfg.Dir, opts...)
	}
	return nil, fmt.Errorf("secrets: unknown backend %q", cfg.Backend)
}
