package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var networkLookbackDays int

var buildNetworkCmd = &cobra.Command{
	Use:   "build-network",
	Short: "Rebuild the counterparty relationship-edge index",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()

		since := time.Time{}
		if networkLookbackDays > 0 {
			since = time.Now().UTC().AddDate(0, 0, -networkLookbackDays)
		}

		rc := a.RunContext("", actor)
		written, err := a.Network.Build(cmd.Context(), since, rc)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "correlation_id: %s\nedges written: %d\n",
			rc.CorrelationID, written)
		return nil
	},
}

func init() {
	buildNetworkCmd.Flags().IntVar(&networkLookbackDays, "lookback-days", 0, "Only aggregate transactions from the last N days (0 = full history)")
}
