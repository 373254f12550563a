// Package cli implements the kite command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kite/internal/app"
	"github.com/opensource-finance/kite/internal/config"
)

var (
	cfgFile   string
	logLevel  string
	actor     string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:   "kite",
	Short: "Transaction monitoring pipeline with reproducible runs",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		appHandle, err = app.New(cfg)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle == nil {
			return nil
		}
		err := appHandle.Close()
		appHandle = nil
		return err
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "Acting identity recorded in audit entries")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(runRulesCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(verifyChainCmd)
	rootCmd.AddCommand(reproduceCmd)
	rootCmd.AddCommand(buildNetworkCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
