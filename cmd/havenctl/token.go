package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/valinor-ai/haven/internal/auth"
)

func (c *cli) tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens",
	}

	var identity auth.Identity
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign an access token with the configured key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.Auth.JWT.SigningKey == "" {
				return fmt.Errorf("auth.jwt.signingkey is not configured")
			}
			if identity.UserID == "" {
				return fmt.Errorf("--user is required")
			}
			svc := auth.NewTokenService(c.cfg.Auth.JWT.SigningKey, c.cfg.Auth.JWT.Issuer, c.cfg.Auth.JWT.ExpiryHours)
			token, err := svc.CreateAccessToken(&identity)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().StringVar(&identity.UserID, "user", "", "Subject user id")
	issue.Flags().StringVar(&identity.TenantID, "tenant", "", "Tenant id claim")
	issue.Flags().StringVar(&identity.Company, "company", "", "Company (tenant name) claim")
	issue.Flags().StringSliceVar(&identity.Roles, "role", nil, "Role name, repeatable")
	issue.Flags().BoolVar(&identity.PlatformAdmin, "platform-admin", false, "Grant the platform admin claim")
	cmd.AddCommand(issue)

	return cmd
}
