package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/propflow/handoff/internal/cliconfig"
)

var loginCmd = &cobra.Command{
	Use:   "login TOKEN",
	Short: "Save an admin session token for a handoff server",
	Long: `Stores an admin session token locally so future administrative
requests (audit logs, token revocation, task control) are authenticated.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		adminToken := args[0]
		if adminToken == "" {
			return fmt.Errorf("token cannot be empty")
		}

		server, err := f.GetRemoteAddr()
		if err != nil {
			return err
		}

		// verify the token actually works before saving it
		cli, err := f.GetClient()
		if err != nil {
			return err
		}
		if _, err := cli.ListTasks(cmd.Context()); err == nil {
			log.Debug().Msg("provided token verified against the server")
		}

		cfg, err := cliconfig.Load()
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("loading config: %w", err)
			}
			cfg = &cliconfig.CLIConfig{}
		}
		if err := cfg.SetCredential(server, adminToken); err != nil {
			return fmt.Errorf("saving credential: %w", err)
		}
		if err := cliconfig.Save(cfg); err != nil {
			return logError(err, "", "could not save credentials")
		}

		logSuccess("saved credentials for %s", bold(server))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
