package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/infra/api"

	"github.com/spf13/cobra"
)

func adminTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint a bearer token for the admin API",
		Long: `Mint a signed bearer token for /admin endpoints.

Examples:
  hotspot admin-token --subject ops@example.com
  hotspot admin-token --subject root --role SUPER_ADMIN --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Security.JWTSecret == "" {
				return errors.New("security.jwt_secret (or JWT_SECRET) is required to mint tokens")
			}
			r := model.Role(strings.ToUpper(role))
			if !r.IsStaff() {
				return fmt.Errorf("role must be ADMIN or SUPER_ADMIN, got %q", role)
			}
			if ttl <= 0 {
				ttl = cfg.Security.TokenTTL
			}
			tok, err := api.NewAuthManager(cfg.Security.JWTSecret, ttl).Mint(subject, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "admin", "operator identity recorded in the token")
	cmd.Flags().StringVarP(&role, "role", "r", string(model.RoleAdmin), "ADMIN or SUPER_ADMIN")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.token_ttl)")
	return cmd
}
