package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration and print each driver set with its match table.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, set := range c.Drivers {
				table, err := set.IDTable()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d sub-driver(s), %d id(s)\n", set.Name, len(set.SubDrivers), len(table))
				for _, sd := range set.SubDrivers {
					fmt.Fprintf(out, "  %s ports=%d\n", sd.Name, sd.NumPorts)
				}
				for _, id := range table {
					fmt.Fprintf(out, "  match %s\n", id)
				}
			}
			return nil
		},
	}
}
