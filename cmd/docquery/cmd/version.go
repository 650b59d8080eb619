package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/namjunsu/docquery/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var (
		jsonOutput  bool
		shortOutput bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print the docquery version, commit, build date, and Go version.",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case shortOutput:
				fmt.Fprintln(cmd.OutOrStdout(), version.Short())
			case jsonOutput:
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(version.GetInfo()); err != nil {
					return fmt.Errorf("encode version info: %w", err)
				}
			default:
				fmt.Fprintln(cmd.OutOrStdout(), version.String())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&shortOutput, "short", false, "Output version number only")

	return cmd
}
