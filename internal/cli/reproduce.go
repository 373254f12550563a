package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reproduceOut string

var reproduceCmd = &cobra.Command{
	Use:   "reproduce <correlation-id>",
	Short: "Export a run's artifacts as a reproducibility bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()

		rc := a.RunContext("", actor)
		path, err := a.Bundles.Export(cmd.Context(), args[0], reproduceOut, rc)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "bundle written: %s\n", path)
		return nil
	},
}

func init() {
	reproduceCmd.Flags().StringVar(&reproduceOut, "out", "", "Output path (defaults to reproduce_<correlation-id>.json)")
}
