package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/necessary-nu/tracey/internal/bridge/lsp"
	"github.com/necessary-nu/tracey/internal/logging"
)

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Run the editor language-server bridge on stdio",
	Long: `Speaks the language-server protocol on stdin/stdout, translating
editor requests to daemon RPCs. Document lifecycle events feed the
daemon's in-memory overlay. The daemon is started automatically when
absent.`,
	Run: runLsp,
}

func init() {
	rootCmd.AddCommand(lspCmd)
}

func runLsp(cmd *cobra.Command, args []string) {
	client, root, err := connectOrStart()
	if err != nil {
		fail(err)
	}
	defer client.Close()

	// Stdout carries the protocol; logs go to stderr.
	logger := logging.NewLogger(logging.Config{
		Format: logging.HumanFormat,
		Level:  logging.LogLevel(logLevelFlag),
		Output: os.Stderr,
	})

	server := lsp.NewServer(root, client, logger, os.Stdin, os.Stdout)
	if err := server.Run(); err != nil {
		fail(err)
	}
}
