package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configFile  string
	logLevel    string
	development bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "canarystore",
		Short: "Canary analysis storage and metrics service",
		Long: `canarystore keeps canary configs, metric set pair lists and archived
results in the configured storage accounts and runs metrics queries
against Prometheus accounts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "path to a YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&opts.development, "development", false, "human readable development logging")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newAccountsCommand(opts))
	cmd.AddCommand(newReindexCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newImportCommand(opts))

	return cmd
}
