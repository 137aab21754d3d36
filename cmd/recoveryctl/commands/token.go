package commands

import (
	"fmt"
	"time"

	"recovery-caller/internal/auth"
	"recovery-caller/internal/config"
	"recovery-caller/internal/rbac"

	"github.com/spf13/cobra"
)

// loadAuth is replaced in tests.
var loadAuth = config.LoadAuth

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed API token",
		Long: `Signs a token with JWT_SECRET from the environment (or .env).
Scheduler tokens are service tokens; operator and super_admin tokens are access tokens.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			role, _ := cmd.Flags().GetString(flagRole)
			ttl, _ := cmd.Flags().GetDuration(flagTTL)
			subject, _ := cmd.Flags().GetString(flagSubject)
			shop, _ := cmd.Flags().GetString(flagShop)

			if !rbac.Known(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			if subject == "" {
				subject = role
			}
			tokenType := auth.TokenTypeAccess
			if rbac.IsHiddenRole(role) {
				tokenType = auth.TokenTypeService
			}

			cfg, err := loadAuth()
			if err != nil {
				return err
			}
			m, err := auth.NewManager(cfg)
			if err != nil {
				return err
			}
			tok, err := m.Issue(time.Now(), auth.IssueRequest{
				Subject:   subject,
				Role:      role,
				Shop:      shop,
				TokenType: tokenType,
				TTL:       ttl,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringP(flagRole, "r", "", "Role: operator, scheduler or super_admin")
	cmd.Flags().Duration(flagTTL, 0, "Token lifetime; zero uses the configured default")
	cmd.Flags().String(flagSubject, "", "Token subject; defaults to the role")
	cmd.Flags().String(flagShop, "", "Restrict the token to one shop")
	if err := cmd.MarkFlagRequired(flagRole); err != nil {
		panic(fmt.Errorf("failed to mark role flag as required for token command: %w", err))
	}
	return cmd
}
