package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/valinor-ai/haven/internal/platform/database"
)

var errNoDatabase = errors.New("database.url is not configured")

func (c *cli) migrationsURL() string {
	return fmt.Sprintf("file://%s", c.cfg.Database.MigrationsPath)
}

func (c *cli) databaseURL() (string, error) {
	if c.cfg.Database.URL == "" {
		return "", errNoDatabase
	}
	return c.cfg.Database.URL, nil
}

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage registry schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := c.databaseURL()
			if err != nil {
				return err
			}
			if err := database.RunMigrations(url, c.migrationsURL()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default: 1 step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				steps = n
			}
			url, err := c.databaseURL()
			if err != nil {
				return err
			}
			if err := database.RollbackMigrations(url, c.migrationsURL(), steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := c.databaseURL()
			if err != nil {
				return err
			}
			version, dirty, err := database.MigrationVersion(url, c.migrationsURL())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	})

	return cmd
}
