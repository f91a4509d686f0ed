package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	jwttoken "evalledger/internal/jwt_token"
	id "evalledger/pkg/domain"
)

func buildTokenCmd() *cobra.Command {
	var (
		userID     string
		privileged bool
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local development",
		Long: `Sign a bearer token with the configured JWT key.

A privileged token may create and modify global test cases. Without --user a
random user ID is generated.`,
		Example: `  evalledger token --user 7d3f0a5e-8f51-4c52-9a0e-4e0f1b3c2a11
  evalledger token --privileged --ttl 1h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			uid := id.UserID(uuid.New())
			if userID != "" {
				uid, err = id.ParseUserID(userID)
				if err != nil {
					return err
				}
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			if cfg.UsingDevSigningKey() {
				log.WarnContext(cmd.Context(), "signing with the development key; set JWT_SIGNING_KEY in production")
			}

			svc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
			token, err := svc.GenerateAccessToken(uid, privileged, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID (UUID) carried by the token")
	cmd.Flags().BoolVar(&privileged, "privileged", false, "Issue a privileged identity")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	return cmd
}
