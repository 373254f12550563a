package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kite/internal/domain"
)

var verifyChainCmd = &cobra.Command{
	Use:   "verify-chain",
	Short: "Verify the integrity of the audit chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()

		count, err := a.VerifyChain(cmd.Context())
		var chainErr *domain.ChainError
		if errors.As(err, &chainErr) {
			return fmt.Errorf("chain BROKEN at index %d (entry %d): %s",
				chainErr.Index, chainErr.EntryID, chainErr.Reason)
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "chain OK: %d entries verified\n", count)
		return nil
	},
}
