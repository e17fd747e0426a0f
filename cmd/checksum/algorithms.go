package main

import (
	"strconv"

	"github.com/agentuity/go-checksum/algorithm"
	"github.com/agentuity/go-checksum/tui"
	"github.com/spf13/cobra"
)

type algorithmInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Bits      int    `json:"bits"`
}

func newAlgorithmsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "algorithms",
		Short: "List the supported digest algorithms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var infos []algorithmInfo
			for _, alg := range algorithm.All() {
				infos = append(infos, algorithmInfo{Name: alg.Name(), Available: alg.Available(), Bits: alg.DigestSize() * 8})
			}
			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(out, infos)
			}
			rows := make([][]string, 0, len(infos))
			for _, info := range infos {
				rows = append(rows, []string{info.Name, strconv.FormatBool(info.Available), strconv.Itoa(info.Bits)})
			}
			tui.Table(out, []string{"NAME", "AVAILABLE", "BITS"}, rows)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print as JSON")
	return cmd
}
