package checksum

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentuity/go-checksum/algorithm"
	"github.com/agentuity/go-checksum/cache"
	"github.com/agentuity/go-checksum/hasher"
	"github.com/agentuity/go-checksum/logger"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	helloMD5    = "5d41402abc4b2a76b9719d911017c592"
	emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// untouchableStore fails the test on any access.
type untouchableStore struct {
	t *testing.T
}

func (u untouchableStore) Get(context.Context, cache.Key) (cache.Record, bool, error) {
	u.t.Fatal("store read")
	return cache.Record{}, false, nil
}
func (u untouchableStore) Put(context.Context, cache.Record) error {
	u.t.Fatal("store write")
	return nil
}
func (u untouchableStore) EvictStale(context.Context, func(cache.Record) bool) (int, error) {
	return 0, nil
}
func (u untouchableStore) Len(context.Context) (int, error) { return 0, nil }
func (u untouchableStore) Save(context.Context) error       { return nil }
func (u untouchableStore) Close(context.Context) error      { return nil }

// countingStore counts gets and puts.
type countingStore struct {
	cache.Store
	gets, puts atomic.Int32
	putErr     error
}

func (c *countingStore) Get(ctx context.Context, key cache.Key) (cache.Record, bool, error) {
	c.gets.Add(1)
	return c.Store.Get(ctx, key)
}

func (c *countingStore) Put(ctx context.Context, rec cache.Record) error {
	c.puts.Add(1)
	if c.putErr != nil {
		return c.putErr
	}
	return c.Store.Put(ctx, rec)
}

func TestReferenceScenarios(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "a.txt", "hello")
	c := New(cache.NewMemory())

	d, err := c.ComputeCached(ctx, path, "sha256", 0, true)
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, d.Hex)
	assert.Equal(t, algorithm.SHA256, d.Algorithm)
	assert.Equal(t, int64(5), d.Size)

	d, err = c.ComputeCached(ctx, path, "md5", 0, true)
	require.NoError(t, err)
	assert.Equal(t, helloMD5, d.Hex)

	d, err = c.HashData([]byte{}, "sha256")
	require.NoError(t, err)
	assert.Equal(t, emptySHA256, d.Hex)
}

func TestUnknownAlgorithm(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.txt", "hello")
	c := New(cache.NewMemory())

	_, err := c.ComputeCached(context.Background(), path, "rot13", 0, true)
	assert.True(t, errors.Is(err, algorithm.ErrUnknownAlgorithm))
	_, err = c.Compute(path, "rot13", 0)
	assert.True(t, errors.Is(err, algorithm.ErrUnknownAlgorithm))
	_, err = c.HashData([]byte("x"), "rot13")
	assert.True(t, errors.Is(err, algorithm.ErrUnknownAlgorithm))
}

func TestUncachedIsDeterministicAndNeverTouchesStore(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "a.txt", "hello")
	c := New(untouchableStore{t})

	first, err := c.ComputeCached(ctx, path, "sha256", 0, false)
	require.NoError(t, err)
	second, err := c.ComputeCached(ctx, path, "sha256", 0, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	forced := New(untouchableStore{t}, WithForceRehash(true))
	d, err := forced.ComputeCached(ctx, path, "sha256", 0, true)
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, d.Hex)
}

func TestCacheHitDoesNotReread(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "a.txt", "hello")
	info, err := os.Stat(path)
	require.NoError(t, err)

	store := &countingStore{Store: cache.NewMemory()}
	c := New(store)
	first, err := c.ComputeCached(ctx, path, "sha256", 0, true)
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.puts.Load())

	// same size, restored mtime: the cached digest is trusted as-is, which
	// shows the content was not read again
	require.NoError(t, os.WriteFile(path, []byte("jello"), 0o644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	second, err := c.ComputeCached(ctx, path, "sha256", 0, true)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, helloSHA256, second.Hex)
	assert.Equal(t, int32(1), store.puts.Load())
	assert.Equal(t, int32(2), store.gets.Load())
}

func TestCacheInvalidationOnChange(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "a.txt", "hello")
	c := New(cache.NewMemory())

	first, err := c.ComputeCached(ctx, path, "sha256", 0, true)
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, first.Hex)

	require.NoError(t, os.WriteFile(path, []byte("hello, world"), 0o644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	second, err := c.ComputeCached(ctx, path, "sha256", 0, true)
	require.NoError(t, err)
	want, err := c.HashData([]byte("hello, world"), "sha256")
	require.NoError(t, err)
	assert.Equal(t, want.Hex, second.Hex)
	assert.NotEqual(t, first.Hex, second.Hex)
}

func TestAlgorithmIsolation(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "a.txt", "hello")
	store := cache.NewMemory()
	c := New(store)

	md5, err := c.ComputeCached(ctx, path, "md5", 0, true)
	require.NoError(t, err)
	sha, err := c.ComputeCached(ctx, path, "sha256", 0, true)
	require.NoError(t, err)
	assert.Equal(t, helloMD5, md5.Hex)
	assert.Equal(t, helloSHA256, sha.Hex)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// hits stay algorithm-specific
	md5, _ = c.ComputeCached(ctx, path, "MD5", 0, true)
	assert.Equal(t, helloMD5, md5.Hex)
}

func TestBlockSizeIsPartOfKey(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "a.txt", "hello")
	store := cache.NewMemory()
	c := New(store)

	for _, bs := range []int{0, hasher.DefaultBlockSize, 3} {
		d, err := c.ComputeCached(ctx, path, "sha256", bs, true)
		require.NoError(t, err)
		assert.Equal(t, helloSHA256, d.Hex)
	}
	// 0 and the default share an entry
	n, _ := store.Len(ctx)
	assert.Equal(t, 2, n)

	_, err := c.ComputeCached(ctx, path, "sha256", -1, true)
	assert.True(t, errors.Is(err, hasher.ErrInvalidBlockSize))
	limited := New(store, WithMaxBlockSize(1024))
	_, err = limited.Compute(path, "sha256", 4096)
	assert.True(t, errors.Is(err, hasher.ErrInvalidBlockSize))
}

func TestUnreadableSource(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := &countingStore{Store: cache.NewMemory()}
	c := New(store)

	_, err := c.ComputeCached(ctx, filepath.Join(dir, "missing"), "sha256", 0, true)
	assert.True(t, errors.Is(err, hasher.ErrSourceUnreadable))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = c.ComputeCached(ctx, dir, "sha256", 0, true)
	assert.True(t, errors.Is(err, hasher.ErrSourceUnreadable))

	_, err = c.Compute(dir, "sha256", 0)
	assert.True(t, errors.Is(err, hasher.ErrSourceUnreadable))
	assert.Equal(t, int32(0), store.puts.Load())
}

func TestPutFailureStillReturnsDigest(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.txt", "hello")
	log := logger.NewTestLogger()
	store := &countingStore{Store: cache.NewMemory(), putErr: errors.New("disk full")}
	c := New(store, WithLogger(log))

	d, err := c.ComputeCached(context.Background(), path, "sha256", 0, true)
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, d.Hex)
	assert.True(t, log.Contains("WARNING", "cache store failed"))
}

// gatedStore holds every Get until the gate opens.
type gatedStore struct {
	countingStore
	gate chan struct{}
}

func (g *gatedStore) Get(ctx context.Context, key cache.Key) (cache.Record, bool, error) {
	<-g.gate
	return g.countingStore.Get(ctx, key)
}

func TestConcurrentMissesShareOneComputation(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "a.txt", "hello")
	store := &gatedStore{countingStore: countingStore{Store: cache.NewMemory()}, gate: make(chan struct{})}
	c := New(store)

	const callers = 32
	var arrived, wg sync.WaitGroup
	arrived.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			arrived.Done()
			d, err := c.ComputeCached(ctx, path, "sha256", 0, true)
			assert.NoError(t, err)
			assert.Equal(t, helloSHA256, d.Hex)
		}()
	}
	// the first lookup is held until every caller is running, so they all
	// miss together; a caller that starts a later flight finds the record
	arrived.Wait()
	time.Sleep(10 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	n, _ := store.Len(ctx)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), store.puts.Load())
	assert.GreaterOrEqual(t, store.gets.Load(), int32(1))
}

func TestSharedLocationAcrossHandles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "hello")
	location := filepath.Join(dir, "cache", "checksums.db")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store := cache.Load(location)
			c := New(store)
			d, err := c.ComputeCached(ctx, path, "sha256", 0, true)
			assert.NoError(t, err)
			assert.Equal(t, helloSHA256, d.Hex)
			assert.NoError(t, store.Close(ctx))
		}()
	}
	wg.Wait()

	n, err := cache.Load(location).Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// a fresh handle hits the persisted record
	store := &countingStore{Store: cache.Load(location)}
	d, err := New(store).ComputeCached(ctx, path, "sha256", 0, true)
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, d.Hex)
	assert.Equal(t, int32(0), store.puts.Load())
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	keep := writeFile(t, dir, "keep.txt", "hello")
	gone := writeFile(t, dir, "gone.txt", "bye")
	changed := writeFile(t, dir, "changed.txt", "v1")
	store := cache.NewMemory()
	c := New(store)

	for _, p := range []string{keep, gone, changed} {
		_, err := c.ComputeCached(ctx, p, "sha256", 0, true)
		require.NoError(t, err)
	}
	require.NoError(t, os.Remove(gone))
	require.NoError(t, os.WriteFile(changed, []byte("version two"), 0o644))

	removed, err := c.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	n, _ := store.Len(ctx)
	assert.Equal(t, 1, n)
}

func TestPruneMaxAge(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "a.txt", "hello")
	store := cache.NewMemory()
	c := New(store, WithMaxAge(time.Hour))
	_, err := c.ComputeCached(ctx, path, "sha256", 0, true)
	require.NoError(t, err)

	removed, err := c.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	removed, err = c.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestNilStoreDisablesCache(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.txt", "hello")
	c := New(nil)
	d, err := c.ComputeCached(context.Background(), path, "sha256", 0, true)
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, d.Hex)
	n, err := c.Prune(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}
