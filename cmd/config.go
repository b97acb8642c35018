package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

func init() {
	rootCmd.AddCommand(configCmd)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "handoff.yaml",
		"The handoff configuration file")
}
