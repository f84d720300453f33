package main

import (
	"github.com/spf13/cobra"

	mcpbridge "github.com/necessary-nu/tracey/internal/bridge/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the AI tool bridge on stdio",
	Long: `Exposes the query surface as MCP tools over stdio for AI agents.
Every response starts with an overall status line and the delta since
the session's previous query. The daemon is started automatically when
absent.`,
	Run: runMcp,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMcp(cmd *cobra.Command, args []string) {
	client, _, err := connectOrStart()
	if err != nil {
		fail(err)
	}
	defer client.Close()

	_, server := mcpbridge.New(client)
	if err := mcpbridge.Serve(server); err != nil {
		fail(err)
	}
}
