package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/necessary-nu/tracey/internal/daemon"
	"github.com/necessary-nu/tracey/internal/logging"
	"github.com/necessary-nu/tracey/internal/paths"
	"github.com/necessary-nu/tracey/internal/version"
)

// Exit codes: 0 success, 1 unrecoverable, 2 validation threshold not
// met.
const (
	exitFailure   = 1
	exitThreshold = 2
)

var (
	completionsFlag string
	logLevelFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "tracey",
	Short: "Bidirectional traceability between specs and code",
	Long: `Tracey maintains traceability between Markdown specifications and the
code that implements or verifies them. Requirements are defined with
PREFIX[id] markers; source comments reference them with PREFIX[verb id]
annotations. A per-workspace daemon owns the model and serves editors,
AI agents, the dashboard, and CLI queries.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE: func(cmd *cobra.Command, args []string) error {
		if completionsFlag != "" {
			return writeCompletions(cmd, completionsFlag)
		}
		return cmd.Help()
	},
}

func init() {
	rootCmd.SetVersionTemplate("tracey version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info",
		"Log level: debug, info, warn, or error")
	rootCmd.Flags().StringVar(&completionsFlag, "completions", "",
		"Generate shell completions: bash, zsh, or fish")
}

func writeCompletions(cmd *cobra.Command, shell string) error {
	switch shell {
	case "bash":
		return cmd.Root().GenBashCompletionV2(os.Stdout, true)
	case "zsh":
		return cmd.Root().GenZshCompletion(os.Stdout)
	case "fish":
		return cmd.Root().GenFishCompletion(os.Stdout, true)
	default:
		return fmt.Errorf("unsupported shell %q (want bash, zsh, or fish)", shell)
	}
}

// workspaceRoot resolves the workspace for the current directory.
func workspaceRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return paths.FindWorkspaceRoot(cwd)
}

// newLogger builds the CLI logger honoring --log-level.
func newLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Format: logging.HumanFormat,
		Level:  logging.LogLevel(logLevelFlag),
	})
}

// connectOrStart dials the workspace daemon, starting one when absent.
func connectOrStart() (*daemon.Client, string, error) {
	root, err := workspaceRoot()
	if err != nil {
		return nil, "", err
	}
	client, err := daemon.ConnectOrStart(root)
	if err != nil {
		return nil, "", err
	}
	return client, root, nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitFailure)
}
