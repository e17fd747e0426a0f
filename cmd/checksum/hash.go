package main

import (
	"fmt"

	"github.com/agentuity/go-checksum/algorithm"
	"github.com/agentuity/go-checksum/config"
	"github.com/agentuity/go-checksum/walk"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// errFailures is returned when some inputs could not be processed.
var errFailures = errors.New("some files failed")

type hashResult struct {
	Path      string              `json:"path"`
	Algorithm algorithm.Algorithm `json:"algorithm"`
	Digest    string              `json:"digest,omitempty"`
	Size      int64               `json:"size"`
	Error     string              `json:"error,omitempty"`
}

func newHashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash [paths...]",
		Short: "Print the digest of files and directories",
		Long: `Print one line per file and algorithm in the form "<digest> <algorithm> <path>",
which "checksum verify" reads back. Directories are walked recursively.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runHash,
	}
	cmd.Flags().StringSliceP("algorithm", "a", nil, "digest algorithm, repeatable (default sha256)")
	cmd.Flags().String("block-size", "", "read size such as 64KiB (default 64KiB)")
	cmd.Flags().StringSlice("exclude", nil, "glob of paths to skip, repeatable")
	cmd.Flags().StringP("output", "o", "", "output format: text or json")
	cmd.Flags().IntP("workers", "j", 0, "files hashed in parallel (default number of CPUs)")
	return cmd
}

func runHash(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	excludes, _ := cmd.Flags().GetStringSlice("exclude")
	files, err := walk.Expand(args, excludes)
	if err != nil {
		return err
	}

	type job struct {
		path string
		alg  string
	}
	var jobs []job
	for _, f := range files {
		for _, alg := range a.cfg.Algorithms {
			jobs = append(jobs, job{path: f, alg: alg})
		}
	}

	results := make([]hashResult, len(jobs))
	g := new(errgroup.Group)
	g.SetLimit(a.cfg.Workers)
	for i, j := range jobs {
		g.Go(func() error {
			res := hashResult{Path: j.path}
			res.Algorithm, _ = algorithm.Resolve(j.alg)
			d, err := a.sums.ComputeCached(cmd.Context(), j.path, j.alg, int(a.cfg.BlockSize), a.useCache())
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Digest, res.Size = d.Hex, d.Size
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, r := range results {
		if r.Error != "" {
			failed++
			a.log.Error("%s", r.Error)
		}
	}
	out := cmd.OutOrStdout()
	if a.cfg.Output == config.OutputJSON {
		if err := writeJSON(out, results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Error == "" {
				fmt.Fprintf(out, "%s %s %s\n", r.Digest, r.Algorithm, r.Path)
			}
		}
	}
	if failed > 0 {
		return errors.Wrapf(errFailures, "%d of %d", failed, len(results))
	}
	return nil
}
