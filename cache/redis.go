package cache

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

type redisStore struct {
	client *redis.Client
	cfg    config
}

var _ Store = (*redisStore)(nil)

// NewRedis returns a Store backed by Redis. Each record is a hash under
// "<prefix>:<key id>" with the msgpack encoded record in field "v". The
// caller owns the redis.Client lifecycle; Close does not close the client.
func NewRedis(client *redis.Client, opts ...Option) Store {
	cfg := applyOptions(opts)
	if cfg.prefix == "" {
		cfg.prefix = DefaultPrefix
	}
	return &redisStore{
		client: client,
		cfg:    cfg,
	}
}

func (c *redisStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *redisStore) redisKey(key Key) string {
	return c.cfg.prefix + ":" + key.ID()
}

func (c *redisStore) decode(data []byte) (Record, error) {
	var w wireRecord
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return Record{}, errors.Mark(errors.Wrap(err, "decode redis record"), ErrCacheCorrupt)
	}
	return w.record(), nil
}

func (c *redisStore) Get(ctx context.Context, key Key) (Record, bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	data, err := c.client.HGet(qctx, c.redisKey(key), "v").Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec, err := c.decode(data)
	if err != nil {
		c.cfg.logger.Warn("dropping unreadable redis record %s: %s", c.redisKey(key), err)
		c.client.Del(qctx, c.redisKey(key))
		return Record{}, false, nil
	}
	if rec.Key != key {
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (c *redisStore) Put(ctx context.Context, record Record) error {
	data, err := msgpack.Marshal(toWire(record))
	if err != nil {
		return err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k := c.redisKey(record.Key)
	pipe := c.client.TxPipeline()
	pipe.HSet(qctx, k, "v", data)
	if c.cfg.ttl > 0 {
		pipe.Expire(qctx, k, c.cfg.ttl)
	}
	_, err = pipe.Exec(qctx)
	return err
}

func (c *redisStore) scan(ctx context.Context, fn func(redisKey string) error) error {
	iter := c.client.Scan(ctx, 0, c.cfg.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (c *redisStore) EvictStale(ctx context.Context, keep func(Record) bool) (int, error) {
	var removed int
	err := c.scan(ctx, func(k string) error {
		data, err := c.client.HGet(ctx, k, "v").Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := c.decode(data)
		if err == nil && keep(rec) {
			return nil
		}
		n, err := c.client.Del(ctx, k).Result()
		if err != nil {
			return err
		}
		removed += int(n)
		return nil
	})
	return removed, err
}

func (c *redisStore) Len(ctx context.Context) (int, error) {
	var n int
	err := c.scan(ctx, func(string) error {
		n++
		return nil
	})
	return n, err
}

// Save is a no-op; Redis persistence is the server's concern.
func (c *redisStore) Save(_ context.Context) error {
	return nil
}

// Close is a no-op; the caller owns the redis.Client lifecycle.
func (c *redisStore) Close(_ context.Context) error {
	return nil
}
