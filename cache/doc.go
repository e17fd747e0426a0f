// Package cache stores file digests keyed by file identity, with multiple
// backend implementations behind one [Store] interface.
//
// # Keys
//
// A [Key] is the absolute path, algorithm name, block size, file size and
// modification time of the file that was hashed. Staleness is decided from
// metadata alone: if a file keeps its size and mtime, its cached digest is
// trusted without re-reading the content. A metadata-preserving rewrite
// (clock skew, copies that restore mtime) is therefore not detected; callers
// that need content-level certainty bypass the cache.
//
// # Implementations
//
//   - [Load]: A single msgpack table on disk, loaded lazily into memory and
//     written back by [Store.Save] (and [Store.Close]) with a
//     temp-file-and-rename, so a crash mid-write never leaves a half-written
//     table. An unreadable table is logged and treated as a cold cache.
//     Concurrent processes sharing the table merge their records under an
//     advisory lock. This is the default backend.
//
//   - [NewMemory]: In-process map guarded by a RWMutex. Lost on exit.
//
//   - [NewSQLite]: Backed by a SQLite database using [modernc.org/sqlite]
//     (pure Go, no CGO). One row per key, so every Put is durable on its own.
//     WAL mode is enabled for concurrent readers.
//
//   - [NewRedis]: Backed by Redis using [github.com/redis/go-redis/v9].
//     Records are msgpack encoded into a Redis hash per key under a
//     configurable prefix, with an optional TTL. The caller owns the
//     [redis.Client] lifecycle.
//
//   - [NewComposite]: Chains stores in order, for example an in-memory L1
//     in front of Redis shared by a fleet of workers.
//
//   - [NewBreaker]: Wraps a remote store in a circuit breaker so an outage
//     degrades to cache misses without waiting on every request.
//
// # Cache-aside
//
// [Exec] looks a key up and, on a miss, runs an [Invoker] and stores its
// record. Cache errors never fail Exec: lookup errors degrade to a miss and
// store errors are logged, because the computed digest is correct either
// way. Invoker errors are returned and nothing is stored, so an interrupted
// computation never leaves a partial record.
//
// # Errors
//
// [ErrCacheCorrupt] is logged by the file and Redis stores, which carry on
// empty; [NewSQLite] returns it for a database it cannot use.
// [ErrCacheWriteFailure] is returned from Save and Close so losing cache
// entries is never silent.
package cache
