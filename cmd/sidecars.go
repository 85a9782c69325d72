package cmd

import (
	"fmt"
	"io"

	"github.com/nais/hahaha/internal/actions"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var sidecarsCmd = &cobra.Command{
	Use:   "sidecars",
	Short: "List the sidecars hahaha knows how to shut down",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printSidecars(cmd.OutOrStdout(), actions.Default())
	},
}

func init() {
	rootCmd.AddCommand(sidecarsCmd)
}

func printSidecars(w io.Writer, reg *actions.Registry) error {
	if reg.Len() == 0 {
		fmt.Fprintln(w, "No sidecars registered")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Container", "Mechanism", "Action")

	for _, name := range reg.Names() {
		action, _ := reg.Lookup(name)
		if err := table.Append(name, string(action.Kind()), action.String()); err != nil {
			return fmt.Errorf("append %s: %w", name, err)
		}
	}
	return table.Render()
}
