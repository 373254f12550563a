package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	runCorrelationID string
	runResume        bool
	runChunkSize     int
	runMaxChunks     int
)

var runRulesCmd = &cobra.Command{
	Use:   "run-rules",
	Short: "Evaluate all rules over stored transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()

		if runResume && runCorrelationID == "" {
			return fmt.Errorf("--resume requires --correlation-id")
		}

		ev, err := a.NewEvaluator()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("chunk-size") {
			ev.ChunkSize = runChunkSize
		}
		ev.MaxChunks = runMaxChunks

		rc := a.RunContext(runCorrelationID, actor)
		summary, err := ev.Run(cmd.Context(), rc, runResume)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(),
			"correlation_id: %s\nchunks: %d\nprocessed: %d\nalerts created: %d\n",
			summary.CorrelationID, summary.ChunksProcessed, summary.Processed, summary.AlertsCreated)
		return nil
	},
}

func init() {
	runRulesCmd.Flags().StringVar(&runCorrelationID, "correlation-id", "", "Correlation id for the run (generated when empty, required with --resume)")
	runRulesCmd.Flags().BoolVar(&runResume, "resume", false, "Resume the run from its last committed checkpoint")
	runRulesCmd.Flags().IntVar(&runChunkSize, "chunk-size", 0, "Transactions per chunk (overrides config; 0 processes everything at once)")
	runRulesCmd.Flags().IntVar(&runMaxChunks, "max-chunks", 0, "Stop after this many chunks without completing the run")
}
