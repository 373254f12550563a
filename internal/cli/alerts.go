package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kite/internal/domain"
)

var (
	alertsStatus        string
	alertsSeverity      string
	alertsRuleID        string
	alertsCorrelationID string
	alertsLimit         int

	updateStatus      string
	updateDisposition string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and disposition alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()

		filter := domain.AlertFilter{
			Status:        alertsStatus,
			Severity:      alertsSeverity,
			RuleID:        alertsRuleID,
			CorrelationID: alertsCorrelationID,
			Limit:         alertsLimit,
		}
		list, err := a.Alerts.List(cmd.Context(), filter)
		if err != nil {
			return err
		}

		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no alerts")
			return nil
		}
		for _, al := range list {
			disposition := al.Disposition
			if disposition == "" {
				disposition = "-"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\ttxn=%d\t%s\t%s\tscore=%.0f\t%s\t%s\t%s\n",
				al.ID, al.TransactionID, al.RuleID, al.Severity, al.Score,
				al.Status, disposition, al.Reason)
		}
		return nil
	},
}

var alertsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Set an alert's status and disposition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid alert id %q", args[0])
		}

		rc := a.RunContext("", actor)
		alert, err := a.Alerts.UpdateDisposition(cmd.Context(), id, updateStatus, updateDisposition, rc)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "alert %d: status=%s disposition=%s\n",
			alert.ID, alert.Status, alert.Disposition)
		return nil
	},
}

func init() {
	alertsListCmd.Flags().StringVar(&alertsStatus, "status", "", "Filter by status (open|closed)")
	alertsListCmd.Flags().StringVar(&alertsSeverity, "severity", "", "Filter by severity")
	alertsListCmd.Flags().StringVar(&alertsRuleID, "rule", "", "Filter by rule id")
	alertsListCmd.Flags().StringVar(&alertsCorrelationID, "correlation-id", "", "Filter by producing run")
	alertsListCmd.Flags().IntVar(&alertsLimit, "limit", 0, "Maximum alerts to list (0 = all)")

	alertsUpdateCmd.Flags().StringVar(&updateStatus, "status", "", "New status (open|closed)")
	alertsUpdateCmd.Flags().StringVar(&updateDisposition, "disposition", "", "New disposition (false_positive|escalate|filed)")
	alertsUpdateCmd.MarkFlagRequired("status")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsUpdateCmd)
}
