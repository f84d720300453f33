package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/necessary-nu/tracey/internal/bump"
	"github.com/necessary-nu/tracey/internal/config"
)

var preCommitCmd = &cobra.Command{
	Use:   "pre-commit",
	Short: "Fail when staged requirement edits lack a version bump",
	Long: `Compares staged spec files against HEAD. Any requirement whose text
changed without a version increase fails the check; run "tracey bump"
to rewrite the versions and re-stage. Intended for a git pre-commit
hook.`,
	Run: runPreCommit,
}

func init() {
	rootCmd.AddCommand(preCommitCmd)
}

func runPreCommit(cmd *cobra.Command, args []string) {
	root, cfg := loadWorkspaceConfig()

	changes, err := bump.Detect(root, cfg)
	if err != nil {
		fail(err)
	}
	if len(changes) == 0 {
		return
	}

	fmt.Fprintln(os.Stderr, "Requirements changed without a version bump:")
	for _, ch := range changes {
		fmt.Fprintf(os.Stderr, "  %s: %s (v%d, needs v%d)\n",
			ch.File, ch.Base, ch.OldVersion, ch.NewVersion)
	}
	fmt.Fprintln(os.Stderr, "\nRun `tracey bump` to bump and re-stage.")
	os.Exit(exitThreshold)
}

func loadWorkspaceConfig() (string, *config.Config) {
	root, err := workspaceRoot()
	if err != nil {
		fail(err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		fail(err)
	}
	return root, cfg
}
