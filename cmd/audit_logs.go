package cmd

import (
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/propflow/handoff/pkg/client"
)

var (
	auditLogsLimit         uint
	auditLogsCorrelationID string
	auditLogsUserID        string
	auditLogsTokenID       string
	auditLogsReplayOnly    bool
)

var auditLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show audit log entries",
	Long: `Retrieves recent audit entries from the server, optionally filtered.
The --replay flag shows only entries flagged as possible token replays.`,
	Example: `  handoff audit logs --limit 20
  handoff audit logs --replay
  handoff audit logs --token-id 3f2a...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := f.GetClient()
		if err != nil {
			return err
		}

		log.Debug().Msg("Fetching audit entries...")
		entries, correlation, err := cli.ListAudits(cmd.Context(), client.ListAuditsOpts{
			Limit:         auditLogsLimit,
			CorrelationID: auditLogsCorrelationID,
			UserID:        auditLogsUserID,
			TokenID:       auditLogsTokenID,
			ReplayOnly:    auditLogsReplayOnly,
		})
		if err != nil {
			return logError(err, correlation, "failed to list audit entries")
		}

		if len(entries) == 0 {
			log.Info().Msg("No audit entries found")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{
			"Time", "Action", "User", "Destination", "Token", "Result",
		})

		for _, entry := range entries {
			result := greenCheck
			if !entry.Success {
				result = redCross + " " + entry.Error
			}
			if entry.Replay {
				result += " " + color.RedString("REPLAY")
			}

			t.AppendRow(table.Row{
				entry.Time.Format(time.RFC3339),
				entry.Action,
				truncate(entry.UserID, 32),
				entry.Destination,
				faint(truncate(entry.TokenID, 12)),
				result,
			})
		}

		applyTableFormat(t)
		t.Render()
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditLogsCmd)

	auditLogsCmd.Flags().UintVar(&auditLogsLimit, "limit", 50, "Maximum number of entries to retrieve")
	auditLogsCmd.Flags().StringVar(&auditLogsCorrelationID, "correlation-id", "", "Filter by correlation ID")
	auditLogsCmd.Flags().StringVar(&auditLogsUserID, "user-id", "", "Filter by user ID")
	auditLogsCmd.Flags().StringVar(&auditLogsTokenID, "token-id", "", "Filter by transfer token ID")
	auditLogsCmd.Flags().BoolVar(&auditLogsReplayOnly, "replay", false, "Show only suspected replays")
}
