package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/valinor-ai/haven/internal/catalog"
)

func (c *cli) catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect permission catalogs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check a catalog file for unknown dependencies and duplicate ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.LoadFile(args[0])
			if err != nil {
				return err
			}
			groups := cat.Groups()
			perms := 0
			system := 0
			for _, g := range groups {
				perms += len(g.Permissions)
				if cat.IsSystemGroup(g.Key) {
					system++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog %s ok: %d groups (%d system), %d permissions\n",
				cat.Version(), len(groups), system, perms)
			return nil
		},
	})

	return cmd
}
