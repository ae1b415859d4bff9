package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the goaccount CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goaccount",
		Short: "goAccount operational tooling",
		Long: `goaccount migrates the account schema, sweeps dead tokens and
generates signing keys for services embedding goAccount.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file path")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before GOACCOUNT_* overrides")

	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSweepCmd())
	cmd.AddCommand(NewKeygenCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}
