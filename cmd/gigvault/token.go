package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gigvault/backend/internal/auth"
	"github.com/gigvault/backend/internal/models"
)

var (
	tokenID   string
	tokenRole string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a caller token signed with the configured secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		authn, err := auth.NewAuthenticator(cfg.Identity.JWTSecret, cfg.Identity.TokenTTL)
		if err != nil {
			return err
		}
		tok, err := authn.Issue(models.Caller{ID: tokenID, Role: tokenRole})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenID, "id", "", "caller identity")
	tokenCmd.Flags().StringVar(&tokenRole, "role", models.RoleParticipant, "participant, arbitrator or keeper")
	_ = tokenCmd.MarkFlagRequired("id")
}
