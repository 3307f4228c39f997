package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/valinor-ai/haven/internal/catalog"
	"github.com/valinor-ai/haven/internal/configsync"
	"github.com/valinor-ai/haven/internal/plan"
	"github.com/valinor-ai/haven/internal/platform/database"
	"github.com/valinor-ai/haven/internal/tenant"
	"github.com/valinor-ai/haven/internal/tenantstore"
)

// openProvisioner connects to the registry and builds a provisioner over
// it. Limit caches held by running servers are not reached from here;
// their entries age out by TTL.
func (c *cli) openProvisioner(ctx context.Context) (*tenant.Provisioner, func(), error) {
	url, err := c.databaseURL()
	if err != nil {
		return nil, nil, err
	}
	cat, err := catalog.LoadFile(c.cfg.Catalog.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading permission catalog: %w", err)
	}
	pool, err := database.Connect(ctx, url, 2)
	if err != nil {
		return nil, nil, err
	}

	stores := tenantstore.NewPGStores(pool, c.cfg.Provisioning.TemplateStore)
	syncer := configsync.New(stores, cat, configsync.Config{Logger: c.logger})
	prov := tenant.NewProvisioner(tenant.NewStore(pool), stores, plan.NewStore(pool), syncer, cat, tenant.ProvisionerConfig{
		SuperRole: c.cfg.Provisioning.SuperRole,
		Logger:    c.logger,
	})
	return prov, pool.Close, nil
}

func (c *cli) reprovisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprovision <tenant-id>",
		Short: "Re-run the provisioning pipeline for a tenant",
		Long: `Re-run every provisioning step for an existing tenant. Datasets that
already hold data are skipped, so the command is safe to repeat.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prov, closeFn, err := c.openProvisioner(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := prov.Reprovision(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tenant %s (%s)\n", res.Tenant.Name, res.Tenant.StoreID)
			for _, s := range res.Steps {
				if s.Error != "" {
					fmt.Fprintf(out, "  %-12s %-14s %s\n", s.Step, s.Outcome, s.Error)
					continue
				}
				fmt.Fprintf(out, "  %-12s %s\n", s.Step, s.Outcome)
			}
			if res.Partial() {
				fmt.Fprintln(out, "provisioning completed with degraded steps")
			}
			return nil
		},
	}
}

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <tenant-id>",
		Short: "Re-apply a tenant's permissions and limits to its store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prov, closeFn, err := c.openProvisioner(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if err := prov.Sync(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tenant %s synced\n", args[0])
			return nil
		},
	}
}
