package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lessongate/lessongate/internal/auth"
	"github.com/spf13/cobra"
)

// tokenCmd mints bearer tokens for local development. Production tokens come
// from the identity provider that shares JWT_SECRET.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a development access token for a learner",
	RunE: func(cmd *cobra.Command, args []string) error {
		learner, _ := cmd.Flags().GetString("learner")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		id, err := uuid.Parse(learner)
		if err != nil {
			return fmt.Errorf("--learner must be a UUID: %w", err)
		}
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return errors.New("JWT_SECRET is required")
		}

		token, err := auth.GenerateAccessToken(secret, id.String(), ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("learner", "", "learner UUID")
	tokenCmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("learner")
}
