package cmd

import (
	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage background tasks",
	Long:  `List, trigger and inspect background tasks (like the token store sweep) on the server. Requires an admin session (handoff login).`,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
}
