package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/necessary-nu/tracey/internal/daemon"
)

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Stop the workspace daemon",
	Run:   runKill,
}

func init() {
	rootCmd.AddCommand(killCmd)
}

func runKill(cmd *cobra.Command, args []string) {
	root, err := workspaceRoot()
	if err != nil {
		fail(err)
	}

	if err := daemon.StopRunning(root); err != nil {
		fail(err)
	}
	fmt.Println("Daemon stopped.")
}
