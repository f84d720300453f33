//go:build !windows

package daemon

import (
	"os/exec"
	"syscall"
)

// setDaemonSysProcAttr detaches a spawned daemon into its own session.
func setDaemonSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
