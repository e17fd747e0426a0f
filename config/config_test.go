package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/agentuity/go-checksum/algorithm"
	"github.com/agentuity/go-checksum/cache"
	"github.com/agentuity/go-checksum/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, BackendFile, cfg.Cache.Backend)
	assert.Equal(t, []string{"sha256"}, cfg.Algorithms)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, OutputText, cfg.Output)
	assert.Equal(t, filepath.Join(DefaultCacheDir(), "checksums.db"), cfg.Cache.Location())

	cfg.Cache.Backend = BackendSQLite
	assert.Equal(t, filepath.Join(DefaultCacheDir(), "checksums.sqlite"), cfg.Cache.Location())
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("CHECKSUM_TEST_CACHE_DIR", "/var/cache/sums")
	path := filepath.Join(t.TempDir(), "checksum.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  backend: sqlite
  path: ${CHECKSUM_TEST_CACHE_DIR}/db.sqlite
  prefix: ${CHECKSUM_TEST_UNSET:-ci}
  ttl: 2d
  max_age: 1w
algorithms: [SHA-256, blake2b-512]
block_size: 128KiB
workers: 3
output: JSON
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Cache.Enabled, "keys absent from the file keep their defaults")
	assert.Equal(t, BackendSQLite, cfg.Cache.Backend)
	assert.Equal(t, "/var/cache/sums/db.sqlite", cfg.Cache.Path)
	assert.Equal(t, "ci", cfg.Cache.Prefix)
	assert.Equal(t, Duration(48*time.Hour), cfg.Cache.TTL)
	assert.Equal(t, Duration(7*24*time.Hour), cfg.Cache.MaxAge)
	assert.Equal(t, []string{"sha256", "blake2b"}, cfg.Algorithms)
	assert.Equal(t, ByteSize(128*1024), cfg.BlockSize)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, OutputJSON, cfg.Output)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  ttl: forever\n"), 0o644))
	_, err = Load(path)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(mapLookup(map[string]string{
		"CHECKSUM_CACHE":         "false",
		"CHECKSUM_CACHE_BACKEND": "redis",
		"CHECKSUM_REDIS_URL":     "redis://localhost:6379/0",
		"CHECKSUM_CACHE_TTL":     "12h",
		"CHECKSUM_ALGORITHM":     "md5, sha1",
		"CHECKSUM_BLOCK_SIZE":    "1MiB",
		"CHECKSUM_WORKERS":       "2",
		"CHECKSUM_OUTPUT":        "json",
	})))
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, BackendRedis, cfg.Cache.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cache.RedisURL)
	assert.Equal(t, Duration(12*time.Hour), cfg.Cache.TTL)
	assert.Equal(t, []string{"md5", "sha1"}, cfg.Algorithms)
	assert.Equal(t, ByteSize(1<<20), cfg.BlockSize)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, OutputJSON, cfg.Output)

	for name, value := range map[string]string{
		"CHECKSUM_CACHE":      "maybe",
		"CHECKSUM_WORKERS":    "many",
		"CHECKSUM_BLOCK_SIZE": "lots",
		"CHECKSUM_CACHE_TTL":  "-1h",
	} {
		cfg := Default()
		err := cfg.ApplyEnv(mapLookup(map[string]string{name: value}))
		assert.True(t, errors.Is(err, ErrInvalidConfig), name)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Cache.Backend = "tape" }},
		{"redis without url", func(c *Config) { c.Cache.Backend = BackendRedis }},
		{"no algorithms", func(c *Config) { c.Algorithms = nil }},
		{"unknown algorithm", func(c *Config) { c.Algorithms = []string{"rot13"} }},
		{"negative block size", func(c *Config) { c.BlockSize = -1 }},
		{"unknown output", func(c *Config) { c.Output = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
		})
	}

	cfg := Default()
	cfg.Algorithms = []string{"rot13"}
	assert.True(t, errors.Is(cfg.Validate(), algorithm.ErrUnknownAlgorithm))

	cfg = Default()
	cfg.Workers = 0
	cfg.Cache.Backend = " SQLite "
	require.NoError(t, cfg.Validate())
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, BackendSQLite, cfg.Cache.Backend)
}

func TestParseSizes(t *testing.T) {
	n, err := ParseByteSize("64KiB")
	require.NoError(t, err)
	assert.Equal(t, 65536, n)
	n, err = ParseByteSize("4096")
	require.NoError(t, err)
	assert.Equal(t, 4096, n)
	_, err = ParseByteSize("2GiB")
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	d, err := ParseDuration("30d")
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, d)
	d, err = ParseDuration("")
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestInterpolate(t *testing.T) {
	lookup := mapLookup(map[string]string{"HOME": "/home/u", "EMPTY": ""})
	tests := map[string]string{
		"${HOME}/cache":         "/home/u/cache",
		"${env:HOME}":           "/home/u",
		"${MISSING:-fallback}":  "fallback",
		"${EMPTY:-fallback}":    "fallback",
		"${MISSING}":            "${MISSING}",
		"${}":                   "${}",
		"plain":                 "plain",
		"${HOME":                "${HOME",
		"a ${HOME} b ${HOME} c": "a /home/u b /home/u c",
	}
	for in, want := range tests {
		assert.Equal(t, want, interpolate(in, lookup), in)
	}
}

func TestFlagOrEnv(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("test-flag", "", "Test flag")

	require.NoError(t, cmd.Flags().Set("test-flag", "flag-value"))
	assert.Equal(t, "flag-value", FlagOrEnv(cmd, "test-flag", "CHECKSUM_TEST_ENV", "default"))

	require.NoError(t, cmd.Flags().Set("test-flag", ""))
	t.Setenv("CHECKSUM_TEST_ENV", "env-value")
	assert.Equal(t, "env-value", FlagOrEnv(cmd, "test-flag", "CHECKSUM_TEST_ENV", "default"))

	assert.Equal(t, "default", FlagOrEnv(cmd, "test-flag", "CHECKSUM_TEST_OTHER", "default"))
}

func TestLogLevel(t *testing.T) {
	testCases := []struct {
		name      string
		flagValue string
		envValue  string
		expected  logger.LogLevel
	}{
		{"debug level via flag", "debug", "", logger.LevelDebug},
		{"debug level via env", "", "DEBUG", logger.LevelDebug},
		{"warn level via flag", "warn", "", logger.LevelWarn},
		{"error level via env", "", "ERROR", logger.LevelError},
		{"trace level via flag", "trace", "", logger.LevelTrace},
		{"flag beats env", "error", "trace", logger.LevelError},
		{"default level", "", "", logger.LevelInfo},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "test"}
			cmd.Flags().String("log-level", "", "Log level")
			t.Setenv(logger.EnvLogLevel, tc.envValue)
			if tc.envValue == "" {
				os.Unsetenv(logger.EnvLogLevel)
			}
			if tc.flagValue != "" {
				require.NoError(t, cmd.Flags().Set("log-level", tc.flagValue))
			}
			assert.Equal(t, tc.expected, LogLevel(cmd))
		})
	}
}

func TestApplyFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Bool("no-cache", false, "")
	cmd.Flags().StringSlice("algorithm", nil, "")
	cmd.Flags().String("block-size", "", "")
	cmd.Flags().Int("workers", 0, "")
	cmd.Flags().String("max-age", "", "")
	require.NoError(t, cmd.Flags().Set("no-cache", "true"))
	require.NoError(t, cmd.Flags().Set("algorithm", "md5"))
	require.NoError(t, cmd.Flags().Set("algorithm", "sha512"))
	require.NoError(t, cmd.Flags().Set("block-size", "8KiB"))
	require.NoError(t, cmd.Flags().Set("max-age", "30d"))

	cfg := Default()
	cfg.Workers = 7
	require.NoError(t, cfg.ApplyFlags(cmd))
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, []string{"md5", "sha512"}, cfg.Algorithms)
	assert.Equal(t, ByteSize(8192), cfg.BlockSize)
	assert.Equal(t, Duration(30*24*time.Hour), cfg.Cache.MaxAge)
	assert.Equal(t, 7, cfg.Workers, "unset flags leave the value alone")

	require.NoError(t, cmd.Flags().Set("block-size", "huge"))
	assert.True(t, errors.Is(cfg.ApplyFlags(cmd), ErrInvalidConfig))
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	log := logger.NewTestLogger()

	cfg := Default()
	cfg.Cache.Enabled = false
	store, err := cfg.OpenStore(ctx, log)
	require.NoError(t, err)
	assert.Nil(t, store)

	cfg = Default()
	cfg.Cache.Path = filepath.Join(dir, "sums", "checksums.db")
	store, err = cfg.OpenStore(ctx, log)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.NoError(t, store.Close(ctx))

	cfg.Cache.Backend = BackendSQLite
	cfg.Cache.Path = filepath.Join(dir, "sums", "checksums.sqlite")
	store, err = cfg.OpenStore(ctx, log)
	require.NoError(t, err)
	require.NoError(t, store.Close(ctx))

	cfg.Cache.Backend = BackendMemory
	store, err = cfg.OpenStore(ctx, log)
	require.NoError(t, err)
	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenStoreFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	log := logger.NewTestLogger()

	// a regular file where the cache directory should be
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	cfg := Default()
	cfg.Cache.Path = filepath.Join(blocker, "checksums.db")
	store, err := cfg.OpenStore(ctx, log)
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.True(t, log.Contains("WARNING", "using a memory cache"))

	// a corrupt sqlite database
	corrupt := filepath.Join(dir, "corrupt.sqlite")
	require.NoError(t, os.WriteFile(corrupt, []byte("this is not a database, just some text that is long enough"), 0o644))
	cfg.Cache.Backend = BackendSQLite
	cfg.Cache.Path = corrupt
	store, err = cfg.OpenStore(ctx, log)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, cache.Record{}))
}

func TestOpenStoreUnreachableRedis(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	cfg := Default()
	cfg.Cache.Backend = BackendRedis
	cfg.Cache.RedisURL = "redis://127.0.0.1:1/0"

	store, err := cfg.OpenStore(ctx, log)
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.True(t, log.Contains("WARNING", "cannot reach redis"))
	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenStoreRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := Default()
	cfg.Cache.Backend = BackendRedis
	cfg.Cache.RedisURL = "redis://" + mr.Addr()
	cfg.Cache.Prefix = "ci"
	store, err := cfg.OpenStore(ctx, logger.NewTestLogger())
	require.NoError(t, err)

	key, err := cache.NewKey("/tmp/a", "sha256", 0, 0, 1, time.Unix(1, 0))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, cache.Record{Key: key, Digest: "ab", CreatedAt: time.Now()}))
	assert.True(t, mr.Exists("ci:"+key.ID()))

	// repeat lookups are answered by the memory tier
	mr.FlushAll()
	rec, found, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ab", rec.Digest)
	require.NoError(t, store.Close(ctx))

	mr.Close()
	log := logger.NewTestLogger()
	store, err = cfg.OpenStore(ctx, log)
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.True(t, log.Contains("WARNING", "using a memory cache"))
	require.NoError(t, store.Put(ctx, cache.Record{Key: key, Digest: "ab"}))

	cfg.Cache.RedisURL = "http://nope"
	_, err = cfg.OpenStore(ctx, logger.NewTestLogger())
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
