package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/valinor-ai/haven/internal/platform/config"
	"github.com/valinor-ai/haven/internal/platform/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries what every subcommand needs after flag parsing.
type cli struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "havenctl",
		Short: "Operate a Haven tenant registry",
		Long: `Administrative tool for Haven.
Runs registry migrations, re-provisions and re-syncs tenants, validates
permission catalogs and issues access tokens.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			c.cfg = cfg
			c.logger = telemetry.NewLogger(cfg.Log.Level, "text", cmd.ErrOrStderr())
			telemetry.SetDefault(c.logger)
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "config.yaml", "Path to the config file")

	root.AddCommand(
		c.migrateCmd(),
		c.reprovisionCmd(),
		c.syncCmd(),
		c.catalogCmd(),
		c.tokenCmd(),
	)
	return root
}
