// Package checksum computes file digests, optionally through a cache keyed
// by file identity.
//
// A cached lookup stats the file and derives a [cache.Key] from its absolute
// path, algorithm, block size, size and modification time. A hit returns the
// stored digest without opening the file. A miss streams the file through
// [hasher.ComputeFile] and stores the result under the key of the file that
// was actually read.
//
// Staleness is judged from size and mtime only. A rewrite that preserves
// both is not noticed; pass useCache=false, or build the Checksummer with
// [WithForceRehash], when that matters.
package checksum

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/agentuity/go-checksum/algorithm"
	"github.com/agentuity/go-checksum/cache"
	"github.com/agentuity/go-checksum/hasher"
	"github.com/agentuity/go-checksum/logger"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"
)

// Checksummer computes digests and owns the policy for using its store.
// It is safe for concurrent use; the store is the only shared state.
type Checksummer struct {
	store      cache.Store
	log        logger.Logger
	forceHash  bool
	maxAge     time.Duration
	blockLimit int
	now        func() time.Time
	inflight   singleflight.Group
}

// Option configures a Checksummer.
type Option func(*Checksummer)

// WithLogger sets the logger for cache diagnostics.
func WithLogger(log logger.Logger) Option {
	return func(c *Checksummer) {
		if log != nil {
			c.log = log
		}
	}
}

// WithForceRehash makes every ComputeCached call behave as if useCache were
// false.
func WithForceRehash(force bool) Option {
	return func(c *Checksummer) { c.forceHash = force }
}

// WithMaxAge makes Prune also drop records older than d.
func WithMaxAge(d time.Duration) Option {
	return func(c *Checksummer) { c.maxAge = d }
}

// WithMaxBlockSize rejects block sizes above limit with
// hasher.ErrInvalidBlockSize. Zero means no limit.
func WithMaxBlockSize(limit int) Option {
	return func(c *Checksummer) { c.blockLimit = limit }
}

// New returns a Checksummer using store for cached requests. A nil store
// disables caching.
func New(store cache.Store, opts ...Option) *Checksummer {
	c := &Checksummer{
		store: store,
		log:   logger.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the store backing cached requests, or nil.
func (c *Checksummer) Store() cache.Store {
	return c.store
}

func (c *Checksummer) blockSize(blockSize int) (int, error) {
	switch {
	case blockSize == 0:
		return hasher.DefaultBlockSize, nil
	case blockSize < 0, c.blockLimit > 0 && blockSize > c.blockLimit:
		return 0, errors.Wrapf(hasher.ErrInvalidBlockSize, "%d", blockSize)
	}
	return blockSize, nil
}

// Compute streams the file at path and never touches the store. A zero
// blockSize selects hasher.DefaultBlockSize.
func (c *Checksummer) Compute(path, algorithmName string, blockSize int) (hasher.Digest, error) {
	alg, err := algorithm.Resolve(algorithmName)
	if err != nil {
		return hasher.Digest{}, err
	}
	bs, err := c.blockSize(blockSize)
	if err != nil {
		return hasher.Digest{}, err
	}
	d, _, err := hasher.ComputeFile(path, alg, bs)
	return d, err
}

// HashData digests an in-memory buffer. Buffers have no stable identity, so
// this is never cached.
func (c *Checksummer) HashData(data []byte, algorithmName string) (hasher.Digest, error) {
	alg, err := algorithm.Resolve(algorithmName)
	if err != nil {
		return hasher.Digest{}, err
	}
	return hasher.ComputeBytes(data, alg)
}

// ComputeCached returns the digest of the file at path, consulting the store
// when useCache is true. With useCache false, a nil store or WithForceRehash
// it is identical to Compute and neither reads nor writes the store.
//
// Store failures never fail the call: the digest is recomputed and, if the
// write-back fails, the fresh digest is still returned.
func (c *Checksummer) ComputeCached(ctx context.Context, path, algorithmName string, blockSize int, useCache bool) (hasher.Digest, error) {
	if !useCache || c.store == nil || c.forceHash {
		return c.Compute(path, algorithmName, blockSize)
	}
	alg, err := algorithm.Resolve(algorithmName)
	if err != nil {
		return hasher.Digest{}, err
	}
	bs, err := c.blockSize(blockSize)
	if err != nil {
		return hasher.Digest{}, err
	}

	src, err := Stat(path)
	if err != nil {
		return hasher.Digest{}, err
	}
	key, err := src.Key(alg, bs)
	if err != nil {
		return hasher.Digest{}, err
	}

	v, err, _ := c.inflight.Do(key.String(), func() (any, error) {
		rec, hit, err := cache.Exec(ctx, c.store, key, c.log, func(context.Context) (cache.Record, error) {
			d, info, err := hasher.ComputeFile(src.Path, alg, bs)
			if err != nil {
				return cache.Record{}, err
			}
			// key the record by the file that was read, which may differ
			// from the earlier stat if the file changed in between
			read := Source{Path: src.Path, Size: info.Size(), ModTime: info.ModTime()}
			readKey, err := read.Key(alg, bs)
			if err != nil {
				return cache.Record{}, err
			}
			return cache.Record{Key: readKey, Digest: d.Hex, CreatedAt: c.now().UTC().Round(0)}, nil
		})
		if err != nil {
			return nil, err
		}
		if hit {
			c.log.Trace("cache hit %s %s", alg, src.Path)
		} else {
			c.log.Trace("cache miss %s %s", alg, src.Path)
		}
		return hasher.Digest{Algorithm: alg, Hex: rec.Digest, Size: rec.Key.Size}, nil
	})
	if err != nil {
		return hasher.Digest{}, err
	}
	return v.(hasher.Digest), nil
}

// Prune drops records whose file is gone or no longer matches the recorded
// size and mtime, plus records older than the configured max age.
func (c *Checksummer) Prune(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	now := c.now()
	return c.store.EvictStale(ctx, func(rec cache.Record) bool {
		if c.maxAge > 0 && now.Sub(rec.CreatedAt) > c.maxAge {
			return false
		}
		info, err := os.Stat(rec.Key.Path)
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
		return info.Size() == rec.Key.Size && info.ModTime().UnixNano() == rec.Key.ModTime
	})
}

// Source is the identity of a file at the moment it was examined. It is
// derived afresh on every call and never persisted.
type Source struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Stat captures the identity of the regular file at path. Missing paths,
// directories and stat failures are hasher.ErrSourceUnreadable.
func Stat(path string) (Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Source{}, errors.Mark(errors.Wrapf(err, "%s", path), hasher.ErrSourceUnreadable)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Source{}, errors.Mark(errors.Wrapf(err, "%s", path), hasher.ErrSourceUnreadable)
	}
	if info.IsDir() {
		return Source{}, errors.Wrapf(hasher.ErrSourceUnreadable, "%s: is a directory", path)
	}
	return Source{Path: abs, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Key derives the cache key for hashing this source with alg in blocks of
// blockSize.
func (s Source) Key(alg algorithm.Algorithm, blockSize int) (cache.Key, error) {
	return cache.NewKey(s.Path, alg.String(), blockSize, hasher.DefaultBlockSize, s.Size, s.ModTime)
}
