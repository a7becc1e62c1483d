package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/remold/remold/pkg/engine"
)

func newRegistryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "List the default type registry",
		Long: `List the handlers the default registry resolves targets against:
exact type registrations, capability interfaces in the specificity
forest, and kind-level fallbacks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registrations := engine.NewRegistry().Registrations()

			if jsonOutput {
				encoded, err := json.MarshalIndent(registrations, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tLEVEL\tOPS")
			for _, reg := range registrations {
				fmt.Fprintf(w, "%s\t%s\t%s\n", reg.Type, reg.Level, strings.Join(reg.Ops, ","))
			}
			return w.Flush()
		},
	}

	return cmd
}
