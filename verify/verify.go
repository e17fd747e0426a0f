package verify

import (
	"context"
	"path/filepath"

	"github.com/agentuity/go-checksum/hasher"
	"github.com/agentuity/go-checksum/logger"
	"golang.org/x/sync/errgroup"
)

// Status is the outcome of checking one entry.
type Status string

const (
	StatusMatch    Status = "match"
	StatusMismatch Status = "mismatch"
	StatusError    Status = "error"
)

// Result is the outcome for one manifest entry.
type Result struct {
	Entry  Entry  `json:"entry"`
	Actual string `json:"actual,omitempty"`
	Status Status `json:"status"`
	Err    error  `json:"-"`
}

// Computer is the part of checksum.Checksummer a Verifier needs.
type Computer interface {
	ComputeCached(ctx context.Context, path, algorithmName string, blockSize int, useCache bool) (hasher.Digest, error)
}

// Verifier checks manifest entries in parallel.
type Verifier struct {
	Computer  Computer
	Logger    logger.Logger
	Workers   int
	BlockSize int
	UseCache  bool
}

// Run checks every entry, resolving relative paths against baseDir. Results
// are in entry order. A failure on one entry never stops the others; a
// cancelled ctx marks the remaining entries as errors.
func (v *Verifier) Run(ctx context.Context, baseDir string, entries []Entry) []Result {
	log := v.Logger
	if log == nil {
		log = logger.NewNop()
	}
	results := make([]Result, len(entries))
	g := new(errgroup.Group)
	if v.Workers > 0 {
		g.SetLimit(v.Workers)
	}
	for i, entry := range entries {
		g.Go(func() error {
			results[i] = v.check(ctx, log, baseDir, entry)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (v *Verifier) check(ctx context.Context, log logger.Logger, baseDir string, entry Entry) Result {
	res := Result{Entry: entry}
	if err := ctx.Err(); err != nil {
		res.Status, res.Err = StatusError, err
		return res
	}
	path := entry.Path
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	d, err := v.Computer.ComputeCached(ctx, path, entry.Algorithm.String(), v.BlockSize, v.UseCache)
	if err != nil {
		log.Debug("verify %s: %s", entry.Path, err)
		res.Status, res.Err = StatusError, err
		return res
	}
	res.Actual = d.Hex
	if d.Matches(entry.Digest) {
		res.Status = StatusMatch
	} else {
		res.Status = StatusMismatch
	}
	return res
}

// Counts tallies results by status.
type Counts struct {
	Total    int `json:"total"`
	Match    int `json:"match"`
	Mismatch int `json:"mismatch"`
	Errors   int `json:"errors"`
}

// OK reports whether every entry matched.
func (c Counts) OK() bool {
	return c.Match == c.Total
}

// Summary counts results by status.
func Summary(results []Result) Counts {
	c := Counts{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusMatch:
			c.Match++
		case StatusMismatch:
			c.Mismatch++
		default:
			c.Errors++
		}
	}
	return c
}
