package main

import (
	"github.com/spf13/cobra"

	"github.com/necessary-nu/tracey/internal/bridge/web"
)

var webAddr string

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Serve the dashboard and JSON API",
	Long: `Starts the HTTP bridge: a static front-end, a JSON API mirroring the
query surface, and a WebSocket channel pushing model version changes.
The daemon is started automatically when absent.`,
	Run: runWeb,
}

func init() {
	webCmd.Flags().StringVar(&webAddr, "addr", "127.0.0.1:5511", "Listen address")
	rootCmd.AddCommand(webCmd)
}

func runWeb(cmd *cobra.Command, args []string) {
	client, root, err := connectOrStart()
	if err != nil {
		fail(err)
	}
	defer client.Close()

	server := web.NewServer(root, webAddr, client, newLogger())
	if err := server.Start(); err != nil {
		fail(err)
	}
}
