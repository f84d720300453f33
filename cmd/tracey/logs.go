package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/necessary-nu/tracey/internal/paths"
)

var (
	logsFollow bool
	logsLines  int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the daemon log",
	Run:   runLogs,
}

func init() {
	logsCmd.Flags().BoolVar(&logsFollow, "follow", false, "Keep reading as the log grows")
	logsCmd.Flags().IntVar(&logsLines, "lines", 50, "Number of trailing lines to show")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) {
	root, err := workspaceRoot()
	if err != nil {
		fail(err)
	}
	path := paths.LogPath(root)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No daemon log.")
			return
		}
		fail(err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if logsLines > 0 && len(lines) > logsLines {
		lines = lines[len(lines)-logsLines:]
	}
	for _, line := range lines {
		fmt.Println(line)
	}

	if !logsFollow {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		fail(err)
	}
	defer f.Close()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		fail(err)
	}

	for {
		buf := make([]byte, 64*1024)
		n, rerr := f.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if rerr == io.EOF {
			time.Sleep(250 * time.Millisecond)
			continue
		}
		if rerr != nil {
			fail(rerr)
		}
	}
}
