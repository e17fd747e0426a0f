package cache

import (
	"context"
	"time"

	"github.com/agentuity/go-checksum/logger"
	"github.com/cockroachdb/errors"
)

var (
	// ErrCacheCorrupt marks a persisted table that could not be parsed. It is
	// logged and the store starts empty; it is never returned by Get or Put.
	ErrCacheCorrupt = errors.New("cache corrupt")
	// ErrCacheWriteFailure marks a failure to persist the table.
	ErrCacheWriteFailure = errors.New("cache write failure")
)

// Store maps a Key to the Record last written for it. Get and Put are
// individually atomic and safe for concurrent use; Save calls are serialized.
type Store interface {
	// Get returns the record for key. found is false on a miss.
	Get(ctx context.Context, key Key) (Record, bool, error)
	// Put inserts or replaces the record stored under record.Key.
	Put(ctx context.Context, record Record) error
	// EvictStale removes every record for which keep returns false and
	// reports how many were removed.
	EvictStale(ctx context.Context, keep func(Record) bool) (int, error)
	// Len returns the number of records.
	Len(ctx context.Context) (int, error)
	// Save flushes pending changes to persistent storage.
	Save(ctx context.Context) error
	// Close flushes and releases the store.
	Close(ctx context.Context) error
}

// DefaultQueryTimeout is the per-operation timeout for cache backends that
// perform I/O (SQLite, Redis). Prevents indefinite hangs on slow or
// unresponsive storage.
const DefaultQueryTimeout = 5 * time.Second

// DefaultPrefix namespaces Redis keys when no prefix is configured.
const DefaultPrefix = "checksum"

// config holds the resolved configuration for a Store implementation.
type config struct {
	logger       logger.Logger
	queryTimeout time.Duration
	prefix       string
	ttl          time.Duration
}

// Option configures a Store implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		logger:       logger.NewNop(),
		queryTimeout: DefaultQueryTimeout,
		prefix:       DefaultPrefix,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithLogger sets the logger used to report recovered cache errors.
func WithLogger(log logger.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed stores
// (SQLite, Redis). Defaults to DefaultQueryTimeout (5 seconds).
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithPrefix sets the key prefix for namespacing cache keys.
// Applies to the Redis backend. Defaults to DefaultPrefix.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithTTL expires records after d. Applies to the Redis backend; zero keeps
// records until evicted.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// Invoker produces the record for a cache miss.
type Invoker func(ctx context.Context) (Record, error)

// Exec is a cache-aside helper. It looks key up in s; on a hit the stored
// record is returned with hit=true. On a miss it calls invoke and puts the
// result. Errors from the store never fail the call: a failed Get is logged
// and treated as a miss, a failed Put is logged and the fresh record still
// returned. Errors from invoke are returned unchanged and nothing is stored.
func Exec(ctx context.Context, s Store, key Key, log logger.Logger, invoke Invoker) (rec Record, hit bool, err error) {
	if log == nil {
		log = logger.NewNop()
	}
	rec, found, err := s.Get(ctx, key)
	switch {
	case errors.Is(err, ErrBackendUnavailable):
		// the breaker already warned when it opened
		log.Debug("cache lookup skipped for %s: %s", key.Path, err)
	case err != nil:
		log.Warn("cache lookup failed for %s, recomputing: %s", key.Path, err)
	case found:
		return rec, true, nil
	}

	rec, err = invoke(ctx)
	if err != nil {
		return Record{}, false, err
	}

	if err := s.Put(ctx, rec); errors.Is(err, ErrBackendUnavailable) {
		log.Debug("cache store skipped for %s: %s", rec.Key.Path, err)
	} else if err != nil {
		log.Warn("cache store failed for %s: %s", rec.Key.Path, err)
	}
	return rec, false, nil
}
