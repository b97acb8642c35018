package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var auditTokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "List currently active transfer tokens",
	Long: `Retrieves all transfer tokens still in Issued state, with the user
they belong to, the destination they are bound to and when they expire.

This command requires an admin session (handoff login).`,
	Example: `  handoff audit tokens`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := f.GetClient()
		if err != nil {
			return err
		}

		log.Debug().Msg("Fetching active transfer tokens...")
		tokens, correlation, err := cli.ListActiveTokens(cmd.Context())
		if err != nil {
			return logError(err, correlation, "failed to list active tokens")
		}

		if len(tokens) == 0 {
			log.Info().Msg("No active transfer tokens found")
			return nil
		}
		log.Debug().Msgf("Retrieved %d active token(s)", len(tokens))

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{
			"Token", "User", "Destination", "Issued", "Expires",
		})

		for _, tok := range tokens {
			timeLeft := time.Until(tok.ExpiresAt).Round(time.Second)

			t.AppendRow(table.Row{
				faint(truncate(tok.TokenID, 12)),
				bold(truncate(tok.UserID, 32)),
				tok.Destination,
				tok.IssuedAt.Format(time.RFC3339),
				fmt.Sprintf("%s (%s)", tok.ExpiresAt.Format("15:04:05"), faint(timeLeft.String())),
			})
		}

		applyTableFormat(t)
		t.Render()
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditTokensCmd)
}
