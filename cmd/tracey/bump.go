package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/necessary-nu/tracey/internal/bump"
)

var bumpCmd = &cobra.Command{
	Use:   "bump",
	Short: "Bump versions of staged requirements whose text changed",
	Long: `Rewrites the version suffix of every staged requirement whose text
changed without a bump, then re-stages the affected files. Edits are
applied last-to-first within each file so byte offsets stay valid.`,
	Run: runBump,
}

func init() {
	rootCmd.AddCommand(bumpCmd)
}

func runBump(cmd *cobra.Command, args []string) {
	root, cfg := loadWorkspaceConfig()

	changes, err := bump.Detect(root, cfg)
	if err != nil {
		fail(err)
	}
	if len(changes) == 0 {
		fmt.Println("Nothing to bump.")
		return
	}

	if err := bump.Apply(root, changes); err != nil {
		fail(err)
	}
	for _, ch := range changes {
		fmt.Printf("bumped %s to +%d in %s\n", ch.Base, ch.NewVersion, ch.File)
	}
}
