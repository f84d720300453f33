package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/necessary-nu/tracey/internal/daemon"
	"github.com/necessary-nu/tracey/internal/query"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and coverage status",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "human", "Output format (json, human)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	root, err := workspaceRoot()
	if err != nil {
		fail(err)
	}

	info, running, err := daemon.Running(root)
	if err != nil {
		fail(err)
	}
	if !running {
		fmt.Println("Daemon: not running")
		return
	}
	fmt.Printf("Daemon: running (PID %d, protocol %d, since %s)\n",
		info.PID, info.Protocol, info.StartedAt.Format(time.RFC3339))

	client, err := daemon.Connect(root)
	if err != nil {
		fail(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var report query.StatusReport
	if err := client.Call(ctx, daemon.MethodStatus, nil, &report); err != nil {
		fail(err)
	}

	if statusFormat == "json" {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Print(query.RenderStatus(report))
}
