package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"customerportal/api/internal/auth"
	"customerportal/api/internal/config"
	"customerportal/api/internal/rbac"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for local development",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(cfgFile)
		if err != nil {
			return err
		}
		user, _ := cmd.Flags().GetString("user")
		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		if normalized := rbac.Normalize(role); string(normalized) != role {
			return fmt.Errorf("unknown role %q", role)
		}
		token, claims, err := auth.IssueDevToken([]byte(cfg.JWTSecret), user, name, role, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "jti=%s expires=%s\n", claims.JTI, claims.ExpiresAt().UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("user", "dev-user", "subject (user id)")
	tokenCmd.Flags().String("name", "Developer", "display name")
	tokenCmd.Flags().String("role", string(rbac.RoleMember), "viewer, client, member, manager or admin")
	tokenCmd.Flags().Duration("ttl", 12*time.Hour, "token lifetime")
}
