package config

import (
	"log"
	"os"

	"github.com/agentuity/go-checksum/logger"
	"github.com/spf13/cobra"
)

// FlagOrEnv returns the string flag flagName if set on cmd, else the
// environment variable envName if present, else defaultValue.
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

// LogLevel reads --log-level, then CHECKSUM_LOG_LEVEL, defaulting to info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, "info"), logger.LevelInfo)
}

// NewLogger returns a console logger at the level chosen by LogLevel.
func NewLogger(cmd *cobra.Command) logger.Logger {
	log.SetFlags(0)
	return logger.NewConsoleLogger(LogLevel(cmd))
}

// ApplyFlags overlays the flags the user set on cmd. Flags that do not
// exist on cmd are ignored.
func (c *Config) ApplyFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	if changed("no-cache") {
		if v, _ := flags.GetBool("no-cache"); v {
			c.Cache.Enabled = false
		}
	}
	if changed("cache-backend") {
		c.Cache.Backend, _ = flags.GetString("cache-backend")
	}
	if changed("cache-path") {
		c.Cache.Path, _ = flags.GetString("cache-path")
	}
	if changed("redis-url") {
		c.Cache.RedisURL, _ = flags.GetString("redis-url")
	}
	if changed("max-age") {
		v, _ := flags.GetString("max-age")
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}
		c.Cache.MaxAge = Duration(d)
	}
	if changed("algorithm") {
		c.Algorithms, _ = flags.GetStringSlice("algorithm")
	}
	if changed("block-size") {
		v, _ := flags.GetString("block-size")
		n, err := ParseByteSize(v)
		if err != nil {
			return err
		}
		c.BlockSize = ByteSize(n)
	}
	if changed("workers") {
		c.Workers, _ = flags.GetInt("workers")
	}
	if changed("output") {
		c.Output, _ = flags.GetString("output")
	}
	return nil
}
