package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/adrianmcphee/canarystore/internal/export"
)

func newExportCommand(rootOpts *rootOptions) *cobra.Command {
	var accountName, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump every object of a storage account as JSON lines",
		Long: `Dump canary configs, result archives, metric set lists and metric set
pair lists of one storage account. The dump can be loaded into another
account with import.

Example:
  canarystore export --account local --output local.jsonl
  canarystore import --account s3-prod --input local.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			account, err := a.accounts.Registry.RequireByName(accountName)
			if err != nil {
				return err
			}
			service, err := a.storage.Require(account)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			summary, err := export.Export(cmd.Context(), service, account, w)
			if err != nil {
				return err
			}
			return reportSummary(cmd.ErrOrStderr(), "exported", summary)
		},
	}

	cmd.Flags().StringVar(&accountName, "account", "", "storage account to export (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func newImportCommand(rootOpts *rootOptions) *cobra.Command {
	var accountName, input string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a JSON lines dump into a storage account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			account, err := a.accounts.Registry.RequireByName(accountName)
			if err != nil {
				return err
			}
			service, err := a.storage.Require(account)
			if err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			summary, err := export.Import(cmd.Context(), service, account, r, export.ImportOptions{Overwrite: overwrite})
			if err != nil {
				return err
			}
			return reportSummary(cmd.ErrOrStderr(), "imported", summary)
		},
	}

	cmd.Flags().StringVar(&accountName, "account", "", "storage account to load into (required)")
	cmd.Flags().StringVarP(&input, "input", "i", "", "dump file (default stdin)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace objects whose id already exists")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func reportSummary(w io.Writer, verb string, summary *export.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %s\n", verb, data)
	return nil
}
