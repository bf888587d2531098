package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adrianmcphee/canarystore"
)

type accountRow struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	SupportedTypes []string `json:"supportedTypes"`
	Locations      []string `json:"locations,omitempty"`
}

func newAccountsCommand(rootOpts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List configured accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", format)
			}
			a, err := newApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			return writeAccounts(cmd.OutOrStdout(), a.accounts.Registry.All(), format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format (json|text)")

	return cmd
}

func writeAccounts(w io.Writer, accounts []canarystore.Account, format string) error {
	rows := make([]accountRow, 0, len(accounts))
	for _, account := range accounts {
		row := accountRow{Name: account.Name(), Type: account.Type(), Locations: account.Locations()}
		for _, capability := range account.SupportedTypes() {
			row.SupportedTypes = append(row.SupportedTypes, string(capability))
		}
		rows = append(rows, row)
	}

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tCAPABILITIES")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Name, row.Type, strings.Join(row.SupportedTypes, ","))
	}
	return tw.Flush()
}
