package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/necessary-nu/tracey/internal/daemon"
	"github.com/necessary-nu/tracey/internal/logging"
	"github.com/necessary-nu/tracey/internal/paths"
)

var (
	daemonIdleMinutes int
	daemonNoWatch     bool
	daemonNoCache     bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the workspace daemon in the foreground",
	Long: `Owns the workspace model: watches the filesystem, rebuilds on change,
and serves bridges over the per-workspace socket. Exits after the idle
timeout with no client connections.`,
	Run: runDaemon,
}

func init() {
	daemonCmd.Flags().IntVar(&daemonIdleMinutes, "idle-timeout", 30,
		"Exit after this many idle minutes (0 disables)")
	daemonCmd.Flags().BoolVar(&daemonNoWatch, "no-watch", false,
		"Disable the filesystem watcher")
	daemonCmd.Flags().BoolVar(&daemonNoCache, "no-cache", false,
		"Disable the parse-artifact cache")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) {
	root, err := workspaceRoot()
	if err != nil {
		fail(err)
	}

	if _, err := paths.EnsureStateDir(root); err != nil {
		fail(err)
	}

	logPath := paths.LogPath(root)
	if err := logging.RotateIfLarge(logPath, logging.DefaultMaxLogBytes); err != nil {
		fail(err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fail(err)
	}
	defer logFile.Close()

	logger := logging.NewLogger(logging.Config{
		Format: logging.JSONFormat,
		Level:  logging.LogLevel(logLevelFlag),
		Output: logFile,
	})

	opts := daemon.DefaultOptions()
	opts.IdleTimeout = 0
	if daemonIdleMinutes > 0 {
		opts.IdleTimeout = time.Duration(daemonIdleMinutes) * time.Minute
	}
	opts.Watch = !daemonNoWatch
	opts.Cache = !daemonNoCache

	d := daemon.New(root, logger, opts)
	if err := d.Start(); err != nil {
		fail(err)
	}

	d.Wait()
	if err := d.Stop(); err != nil {
		fail(err)
	}
}
