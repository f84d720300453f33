package daemon

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/necessary-nu/tracey/internal/paths"
)

// Running reports whether a live daemon owns this workspace, and its
// pid-file record.
func Running(root string) (PIDInfo, bool, error) {
	return NewPIDFile(paths.PIDPath(root)).Owner()
}

// StopRunning asks the workspace daemon to exit over the socket, or
// with SIGTERM when the socket cannot be reached, then waits for the
// process to disappear.
func StopRunning(root string) error {
	info, running, err := Running(root)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	if c, cerr := Connect(root); cerr == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = c.Call(ctx, MethodShutdown, nil, nil)
		cancel()
		c.Close()
	} else if proc, ferr := os.FindProcess(info.PID); ferr == nil {
		if serr := proc.Signal(syscall.SIGTERM); serr != nil {
			return fmt.Errorf("failed to signal daemon: %w", serr)
		}
	}

	deadline := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			return fmt.Errorf("timeout waiting for daemon to stop")
		case <-ticker.C:
			if _, alive, _ := Running(root); !alive {
				return nil
			}
		}
	}
}
