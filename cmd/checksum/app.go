package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/agentuity/go-checksum/cache"
	"github.com/agentuity/go-checksum/checksum"
	"github.com/agentuity/go-checksum/config"
	"github.com/agentuity/go-checksum/logger"
	"github.com/spf13/cobra"
)

// app is the state shared by every command run.
type app struct {
	cfg   config.Config
	log   logger.Logger
	store cache.Store
	sums  *checksum.Checksummer
}

func setup(cmd *cobra.Command) (*app, error) {
	log := config.NewLogger(cmd)
	cfg, err := config.Load(config.FlagOrEnv(cmd, "config", "CHECKSUM_CONFIG", ""))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(cmd); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := cfg.OpenStore(cmd.Context(), logger.WithKV(log.WithPrefix("[cache]"), "backend", cfg.Cache.Backend))
	if err != nil {
		return nil, err
	}
	sums := checksum.New(store,
		checksum.WithLogger(log),
		checksum.WithMaxAge(time.Duration(cfg.Cache.MaxAge)),
		checksum.WithMaxBlockSize(config.MaxBlockSize()),
	)
	log.Debug("cache backend=%s enabled=%v", cfg.Cache.Backend, cfg.Cache.Enabled)
	return &app{cfg: cfg, log: log, store: store, sums: sums}, nil
}

// close flushes the cache. A failed flush loses cache entries, not
// results, so it is reported and not returned.
func (a *app) close(ctx context.Context) {
	if a.store == nil {
		return
	}
	if err := a.store.Close(context.WithoutCancel(ctx)); err != nil {
		a.log.Warn("cache not saved: %s", err)
	}
}

func (a *app) useCache() bool {
	return a.store != nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
