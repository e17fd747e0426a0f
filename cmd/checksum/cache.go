package main

import (
	"fmt"
	"os"

	"github.com/agentuity/go-checksum/cache"
	"github.com/agentuity/go-checksum/config"
	"github.com/agentuity/go-checksum/tui"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the digest cache",
	}
	cmd.AddCommand(newCachePruneCmd())
	cmd.AddCommand(newCacheStatsCmd())
	return cmd
}

func newCachePruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop entries for files that changed or no longer exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())
			if a.store == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "cache disabled")
				return nil
			}
			removed, err := a.sums.Prune(cmd.Context())
			if err != nil {
				return err
			}
			remaining, err := a.store.Len(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d, kept %d\n", removed, remaining)
			return nil
		},
	}
	cmd.Flags().String("max-age", "", "also drop entries older than this, such as 30d")
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show where the cache lives and how many entries it holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())
			rows := [][]string{
				{"enabled", fmt.Sprint(a.cfg.Cache.Enabled)},
				{"backend", a.cfg.Cache.Backend},
			}
			if a.store == nil {
				tui.Table(cmd.OutOrStdout(), []string{"SETTING", "VALUE"}, rows)
				return nil
			}
			n, err := a.store.Len(cmd.Context())
			if err != nil {
				return err
			}
			rows = append(rows, []string{"entries", humanize.Comma(int64(n))})
			switch a.cfg.Cache.Backend {
			case config.BackendFile, config.BackendSQLite:
				location := a.cfg.Cache.Location()
				rows = append(rows, []string{"location", location})
				if info, err := os.Stat(location); err == nil {
					rows = append(rows, []string{"size", humanize.IBytes(uint64(info.Size()))})
					rows = append(rows, []string{"modified", humanize.Time(info.ModTime())})
				}
			case config.BackendRedis:
				prefix := a.cfg.Cache.Prefix
				if prefix == "" {
					prefix = cache.DefaultPrefix
				}
				rows = append(rows, []string{"url", config.MaskURL(a.cfg.Cache.RedisURL)})
				rows = append(rows, []string{"prefix", prefix})
			}
			tui.Table(cmd.OutOrStdout(), []string{"SETTING", "VALUE"}, rows)
			return nil
		},
	}
}
