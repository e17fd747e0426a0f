package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "checksum",
		Short:         "Compute and verify file checksums with a persistent digest cache",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML config file (env CHECKSUM_CONFIG)")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error (env CHECKSUM_LOG_LEVEL)")
	flags.Bool("no-cache", false, "always read file contents, never touch the cache")
	flags.String("cache-backend", "", "cache backend: file, sqlite, redis or memory")
	flags.String("cache-path", "", "cache file or database location")
	flags.String("redis-url", "", "redis url for the redis backend")

	rootCmd.AddCommand(newHashCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newAlgorithmsCmd())
	rootCmd.AddCommand(newCacheCmd())
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
