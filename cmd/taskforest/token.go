package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"taskforest/internal/config"
	"taskforest/internal/middleware"
)

// tokenCmd signs an access token for local use and testing.
func tokenCmd() *cobra.Command {
	var (
		userID int64
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed access token for a user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user must be a positive id")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			tok, err := middleware.IssueToken([]byte(cfg.Auth.JWTSecret), userID, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "owner id to embed")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
