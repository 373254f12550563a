package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kite/internal/ingest"
)

var ingestCorrelationID string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest transactions from a CSV or JSONL file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()

		records, err := ingest.ReadFile(args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no records in source file")
			return nil
		}

		rc := a.RunContext(ingestCorrelationID, actor)
		summary, err := a.Ingestor.IngestBatch(cmd.Context(), records, rc)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(),
			"correlation_id: %s\nread: %d\ninserted: %d\nduplicate: %d\nrejected: %d\n",
			rc.CorrelationID, summary.RowsRead, summary.RowsInserted,
			summary.RowsDuplicate, summary.RowsRejected)
		for _, reason := range summary.RejectReasons {
			fmt.Fprintf(cmd.OutOrStdout(), "  reject: %s\n", reason)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCorrelationID, "correlation-id", "", "Correlation id for the batch (generated when empty)")
}
