package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adrianmcphee/canarystore"
)

func newReindexCommand(rootOpts *rootOptions) *cobra.Command {
	var accountName string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the canary config index from storage",
		Long: `Rebuild the canary config index of every configuration store account,
or of the one named by --account, from the configs present in storage.
Pending markers older than index.stale_after are dropped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			var accounts []canarystore.Account
			if accountName != "" {
				account, err := a.accounts.Registry.RequireByName(accountName)
				if err != nil {
					return err
				}
				accounts = append(accounts, account)
			} else {
				accounts = a.accounts.Registry.AllWithCapability(canarystore.ConfigurationStore)
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, account := range accounts {
				repair, err := a.repairService(account)
				if err != nil {
					return err
				}
				report, err := repair.Rebuild(cmd.Context(), account)
				if err != nil {
					a.logger.Error("index rebuild failed", "account", account.Name(), "error", err)
					failed++
					continue
				}
				fmt.Fprintf(out, "%s: listed=%d indexed=%d added=%d removed=%d stale_pending=%d errors=%d\n",
					report.Account, report.Listed, report.Indexed, len(report.Added), len(report.Removed),
					report.StalePending, len(report.Errors))
				for _, msg := range report.Errors {
					fmt.Fprintf(out, "  %s\n", msg)
				}
			}
			if failed > 0 {
				return fmt.Errorf("index rebuild failed for %d of %d accounts", failed, len(accounts))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&accountName, "account", "", "rebuild only this account")

	return cmd
}
