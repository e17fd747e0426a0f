package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/agentuity/go-checksum/cache"
	"github.com/agentuity/go-checksum/logger"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// redisStore closes the client it was opened with.
type redisStore struct {
	cache.Store
	client *redis.Client
}

func (r *redisStore) Close(ctx context.Context) error {
	err := r.Store.Close(ctx)
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// OpenStore builds the configured cache backend. It returns a nil store when
// caching is disabled. A file or sqlite location that cannot be opened is
// logged and replaced with an empty in-memory store, so hashing still works.
// An unreachable Redis is handled the same way; a malformed Redis URL is
// ErrInvalidConfig.
func (c Config) OpenStore(ctx context.Context, log logger.Logger) (cache.Store, error) {
	if !c.Cache.Enabled {
		return nil, nil
	}
	opts := []cache.Option{cache.WithLogger(log)}
	if c.Cache.Prefix != "" {
		opts = append(opts, cache.WithPrefix(c.Cache.Prefix))
	}
	if c.Cache.TTL > 0 {
		opts = append(opts, cache.WithTTL(time.Duration(c.Cache.TTL)))
	}

	switch c.Cache.Backend {
	case BackendMemory:
		return cache.NewMemory(), nil
	case BackendRedis:
		ropts, err := redis.ParseURL(c.Cache.RedisURL)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "redis url"), ErrInvalidConfig)
		}
		client := redis.NewClient(ropts)
		pctx, cancel := context.WithTimeout(ctx, cache.DefaultQueryTimeout)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			client.Close()
			log.Warn("cannot reach redis %s, using a memory cache: %s", MaskURL(c.Cache.RedisURL), err)
			return cache.NewMemory(), nil
		}
		log.Debug("using redis cache at %s", MaskURL(c.Cache.RedisURL))
		// the memory tier keeps repeated lookups within a run off the network
		// and keeps serving them while the breaker is open
		remote := cache.NewBreaker(cache.NewRedis(client, opts...), 0, 0, cache.WithLogger(log))
		return &redisStore{Store: cache.NewComposite(cache.NewMemory(), remote), client: client}, nil
	}

	location := c.Cache.Location()
	if err := os.MkdirAll(filepath.Dir(location), 0o755); err != nil {
		log.Warn("cache directory unavailable, using a memory cache: %s", err)
		return cache.NewMemory(), nil
	}
	if c.Cache.Backend == BackendSQLite {
		store, err := cache.NewSQLite(ctx, location, opts...)
		if err != nil {
			log.Warn("cannot open cache %s, using a memory cache: %s", location, err)
			return cache.NewMemory(), nil
		}
		return store, nil
	}
	if info, err := os.Stat(location); err == nil && info.IsDir() {
		log.Warn("cache location %s is a directory, using a memory cache", location)
		return cache.NewMemory(), nil
	}
	return cache.Load(location, opts...), nil
}
