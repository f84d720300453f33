package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	skillClaude bool
	skillCodex  bool
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Agent skill management",
}

var skillInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the tracey agent skill",
	Long: `Writes a skill file describing the tracey MCP tools into the chosen
agent directory, so coding agents discover the traceability workflow.`,
	Run: runSkillInstall,
}

func init() {
	skillInstallCmd.Flags().BoolVar(&skillClaude, "claude", false, "Install for Claude (.claude/skills)")
	skillInstallCmd.Flags().BoolVar(&skillCodex, "codex", false, "Install for Codex (.codex/skills)")
	skillCmd.AddCommand(skillInstallCmd)
	rootCmd.AddCommand(skillCmd)
}

func runSkillInstall(cmd *cobra.Command, args []string) {
	root, err := workspaceRoot()
	if err != nil {
		fail(err)
	}

	if !skillClaude && !skillCodex {
		skillClaude = true
	}

	var targets []string
	if skillClaude {
		targets = append(targets, filepath.Join(root, ".claude", "skills", "tracey", "SKILL.md"))
	}
	if skillCodex {
		targets = append(targets, filepath.Join(root, ".codex", "skills", "tracey", "SKILL.md"))
	}

	for _, target := range targets {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			fail(err)
		}
		if err := os.WriteFile(target, []byte(skillDoc), 0o644); err != nil {
			fail(err)
		}
		fmt.Printf("Installed %s\n", target)
	}
}

const skillDoc = `---
name: tracey
description: Track coverage between Markdown specs and code annotations.
---

# Tracey

This workspace tracks requirement coverage with tracey. Requirements
are defined in Markdown with PREFIX[id] markers; source comments
reference them with PREFIX[verb id] annotations where verb is impl,
verify/test, depends, or related.

Start the MCP bridge with ` + "`tracey mcp`" + ` and use its tools:

- tracey_status: coverage totals per (spec, implementation) pair
- tracey_uncovered / tracey_untested / tracey_stale: work lists
- tracey_unmapped: files and code units with no references
- tracey_rule: one requirement's text and references
- tracey_validate: the full error report

When you implement a requirement, add a comment like
` + "`// r[impl auth.login]`" + ` above the code. When you test one, use
` + "`// r[verify auth.login]`" + `. Bump the version suffix (+N) when a
requirement's text changes.
`
