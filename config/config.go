// Package config resolves the settings for the checksum tool.
//
// Values are layered, later sources winning: built-in defaults, an optional
// YAML file, CHECKSUM_* environment variables and finally command flags.
// String values in the YAML file may reference the environment as ${NAME}
// or ${NAME:-default}.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/go-checksum/algorithm"
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks a setting that failed to parse or validate.
var ErrInvalidConfig = errors.New("invalid config")

// Cache backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Output formats.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Cache configures the digest cache.
type Cache struct {
	Enabled  bool     `yaml:"enabled"`
	Backend  string   `yaml:"backend"`
	Path     string   `yaml:"path"`
	RedisURL string   `yaml:"redis_url"`
	Prefix   string   `yaml:"prefix"`
	TTL      Duration `yaml:"ttl"`
	MaxAge   Duration `yaml:"max_age"`
}

// Config is the resolved tool configuration.
type Config struct {
	Cache      Cache    `yaml:"cache"`
	Algorithms []string `yaml:"algorithms"`
	BlockSize  ByteSize `yaml:"block_size"`
	Workers    int      `yaml:"workers"`
	Output     string   `yaml:"output"`
}

// Duration accepts anything str2duration does, including days and weeks
// ("30d", "1w2d").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return str2duration.String(time.Duration(d)), nil
}

// ByteSize accepts a plain byte count or a humanized size ("64KiB", "1MB").
type ByteSize int

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseByteSize(value.Value)
	if err != nil {
		return err
	}
	*b = ByteSize(v)
	return nil
}

func (b ByteSize) MarshalYAML() (any, error) {
	return humanize.IBytes(uint64(b)), nil
}

// ParseDuration parses s as a duration. Empty is zero.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "duration %q", s), ErrInvalidConfig)
	}
	if d < 0 {
		return 0, errors.Wrapf(ErrInvalidConfig, "duration %q is negative", s)
	}
	return d, nil
}

// ParseByteSize parses s as a byte count. Empty is zero.
func ParseByteSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "size %q", s), ErrInvalidConfig)
	}
	if n > uint64(maxBlockSize) {
		return 0, errors.Wrapf(ErrInvalidConfig, "size %q exceeds %s", s, humanize.IBytes(uint64(maxBlockSize)))
	}
	return int(n), nil
}

// maxBlockSize bounds the read buffer allocated per hash.
const maxBlockSize = 1 << 30

// MaxBlockSize is the largest block size Validate accepts.
func MaxBlockSize() int { return maxBlockSize }

// DefaultCacheDir is the per-user directory holding the cache.
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "checksum")
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Cache: Cache{
			Enabled: true,
			Backend: BackendFile,
		},
		Algorithms: []string{"sha256"},
		Workers:    runtime.NumCPU(),
		Output:     OutputText,
	}
}

// Location is the file or database path for the file and sqlite backends.
func (c Cache) Location() string {
	if c.Path != "" {
		return c.Path
	}
	if c.Backend == BackendSQLite {
		return filepath.Join(DefaultCacheDir(), "checksums.sqlite")
	}
	return filepath.Join(DefaultCacheDir(), "checksums.db")
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := cfg.Merge(buf); err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Merge overlays YAML onto c. Keys absent from buf keep their value.
func (c *Config) Merge(buf []byte) error {
	expanded := interpolate(string(buf), os.LookupEnv)
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return errors.Mark(err, ErrInvalidConfig)
	}
	return nil
}

// ApplyEnv overlays CHECKSUM_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("CHECKSUM_CACHE"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "CHECKSUM_CACHE=%q", v)
		}
		c.Cache.Enabled = enabled
	}
	str("CHECKSUM_CACHE_BACKEND", &c.Cache.Backend)
	str("CHECKSUM_CACHE_PATH", &c.Cache.Path)
	str("CHECKSUM_REDIS_URL", &c.Cache.RedisURL)
	str("CHECKSUM_CACHE_PREFIX", &c.Cache.Prefix)
	str("CHECKSUM_OUTPUT", &c.Output)
	if v, ok := lookup("CHECKSUM_CACHE_TTL"); ok && v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}
		c.Cache.TTL = Duration(d)
	}
	if v, ok := lookup("CHECKSUM_CACHE_MAX_AGE"); ok && v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}
		c.Cache.MaxAge = Duration(d)
	}
	if v, ok := lookup("CHECKSUM_ALGORITHM"); ok && v != "" {
		c.Algorithms = splitList(v)
	}
	if v, ok := lookup("CHECKSUM_BLOCK_SIZE"); ok && v != "" {
		n, err := ParseByteSize(v)
		if err != nil {
			return err
		}
		c.BlockSize = ByteSize(n)
	}
	if v, ok := lookup("CHECKSUM_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "CHECKSUM_WORKERS=%q", v)
		}
		c.Workers = n
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate normalizes c and reports the first invalid setting.
func (c *Config) Validate() error {
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	switch c.Cache.Backend {
	case "":
		c.Cache.Backend = BackendFile
	case BackendFile, BackendSQLite, BackendMemory:
	case BackendRedis:
		if c.Cache.Enabled && c.Cache.RedisURL == "" {
			return errors.Wrap(ErrInvalidConfig, "redis backend requires a redis url")
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown cache backend %q", c.Cache.Backend)
	}
	if len(c.Algorithms) == 0 {
		return errors.Wrap(ErrInvalidConfig, "no algorithm selected")
	}
	for i, name := range c.Algorithms {
		alg, err := algorithm.Resolve(name)
		if err != nil {
			return errors.Mark(err, ErrInvalidConfig)
		}
		c.Algorithms[i] = alg.String()
	}
	if c.BlockSize < 0 || int(c.BlockSize) > maxBlockSize {
		return errors.Wrapf(ErrInvalidConfig, "block size %d out of range", c.BlockSize)
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	c.Output = strings.ToLower(c.Output)
	switch c.Output {
	case "":
		c.Output = OutputText
	case OutputText, OutputJSON:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown output %q", c.Output)
	}
	return nil
}
