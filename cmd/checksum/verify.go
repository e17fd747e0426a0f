package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/agentuity/go-checksum/config"
	"github.com/agentuity/go-checksum/tui"
	"github.com/agentuity/go-checksum/verify"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <manifest>",
		Short: "Check files against a manifest of digests",
		Long: `Check every entry of a manifest written by "checksum hash" or by sha256sum and
similar tools. Use "-" to read the manifest from stdin. Exits non-zero when any
file is missing or does not match.`,
		Args: cobra.ExactArgs(1),
		RunE: runVerify,
	}
	cmd.Flags().String("base", "", "directory relative paths are resolved against (default the manifest's directory)")
	cmd.Flags().String("default-algorithm", "", "algorithm for lines that name none (default inferred from digest length)")
	cmd.Flags().String("block-size", "", "read size such as 64KiB (default 64KiB)")
	cmd.Flags().StringP("output", "o", "", "output format: text or json")
	cmd.Flags().IntP("workers", "j", 0, "files checked in parallel (default number of CPUs)")
	cmd.Flags().BoolP("quiet", "q", false, "only report failures")
	return cmd
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	manifest := args[0]
	base, _ := cmd.Flags().GetString("base")
	var r io.Reader = cmd.InOrStdin()
	if manifest != "-" {
		f, err := os.Open(manifest)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
		if base == "" {
			base = filepath.Dir(manifest)
		}
	}
	defaultAlg, _ := cmd.Flags().GetString("default-algorithm")
	entries, err := verify.ParseManifest(r, defaultAlg)
	if err != nil {
		return errors.Wrapf(err, "%s", manifest)
	}

	v := &verify.Verifier{
		Computer:  a.sums,
		Logger:    a.log,
		Workers:   a.cfg.Workers,
		BlockSize: int(a.cfg.BlockSize),
		UseCache:  a.useCache(),
	}
	results := v.Run(cmd.Context(), base, entries)
	counts := verify.Summary(results)

	out := cmd.OutOrStdout()
	if a.cfg.Output == config.OutputJSON {
		type jsonResult struct {
			verify.Result
			Error string `json:"error,omitempty"`
		}
		list := make([]jsonResult, len(results))
		for i, r := range results {
			list[i] = jsonResult{Result: r}
			if r.Err != nil {
				list[i].Error = r.Err.Error()
			}
		}
		if err := writeJSON(out, map[string]any{"results": list, "summary": counts}); err != nil {
			return err
		}
	} else {
		quiet, _ := cmd.Flags().GetBool("quiet")
		for _, r := range results {
			switch r.Status {
			case verify.StatusMatch:
				if !quiet {
					tui.ShowSuccess(out, "%s", r.Entry.Path)
				}
			case verify.StatusMismatch:
				tui.ShowWarning(out, "%s %s", r.Entry.Path, tui.Muted(out, "("+r.Entry.Algorithm.String()+" "+r.Actual+")"))
			default:
				tui.ShowError(out, "%s: %s", r.Entry.Path, r.Err)
			}
		}
	}
	if !counts.OK() {
		return errors.Newf("%d of %d failed: %d mismatched, %d unreadable", counts.Mismatch+counts.Errors, counts.Total, counts.Mismatch, counts.Errors)
	}
	return nil
}
