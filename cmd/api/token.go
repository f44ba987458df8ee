package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/pkg/auth"
)

// newTokenCommand mints tokens signed with the configured secret, for local
// development against the memory driver.
func newTokenCommand() *cobra.Command {
	var (
		id   string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed access token for a caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			var identity model.Identity
			if identity.Role, err = model.ParseRole(role); err != nil {
				return err
			}
			if id == "" {
				identity.CallerID = uuid.New()
			} else if identity.CallerID, err = uuid.Parse(id); err != nil {
				return fmt.Errorf("invalid id: %w", err)
			}

			token, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer).GenerateAccessToken(identity, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "caller id (random when empty)")
	cmd.Flags().StringVar(&role, "role", string(model.RolePatient), "patient, nutritionist or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
