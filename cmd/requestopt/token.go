package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/FairForge/requestopt/internal/api"
	"github.com/spf13/cobra"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		Long: `Sign an admin API token with server.jwt_secret.

Example:
  requestopt token --config requestopt.yaml --subject ci --ttl 24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			auth := api.NewTokenAuth(cfg.Server.JWTSecret)
			if auth == nil {
				return errors.New("server.jwt_secret is not set")
			}
			token, err := auth.GenerateToken(subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
