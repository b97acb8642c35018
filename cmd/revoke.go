package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var revokeTokenID string

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke an issued transfer token",
	Long: `Invalidates a transfer token before it is redeemed, e.g. after a
suspicious issuance. Revocation is idempotent; an already redeemed or
revoked token stays in its terminal state.

This command requires an admin session (handoff login).`,
	Example: `  handoff revoke --token 3f2a9c...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if revokeTokenID == "" {
			return fmt.Errorf("must provide --token")
		}

		cli, err := f.GetClient()
		if err != nil {
			return err
		}

		correlation, err := cli.RevokeToken(cmd.Context(), revokeTokenID)
		if err != nil {
			return logError(err, correlation, "failed to revoke token")
		}

		logSuccess("token revoked successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(revokeCmd)
	revokeCmd.Flags().StringVar(&revokeTokenID, "token", "", "The transfer token ID to revoke")
	_ = revokeCmd.MarkFlagRequired("token")
}
