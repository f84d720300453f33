package daemon

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// PIDInfo is the daemon.pid document: owner process and wire-protocol
// version.
type PIDInfo struct {
	PID       int       `toml:"pid"`
	Protocol  int       `toml:"protocol"`
	StartedAt time.Time `toml:"started_at"`
}

// PIDFile manages the daemon pid file.
type PIDFile struct {
	path string
}

// NewPIDFile creates a pid-file manager.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Acquire writes the current process into the pid file. It fails when
// another live daemon owns the file, and silently replaces a stale one.
func (p *PIDFile) Acquire(protocol int) error {
	if info, running, err := p.Owner(); err != nil {
		return err
	} else if running {
		return fmt.Errorf("daemon is already running (PID: %d)", info.PID)
	}

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}

	info := PIDInfo{
		PID:       os.Getpid(),
		Protocol:  protocol,
		StartedAt: time.Now().UTC(),
	}
	data, err := toml.Marshal(info)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Release removes the pid file.
func (p *PIDFile) Release() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return nil
}

// Owner reads the pid file and reports whether the recorded process is
// alive. A missing or malformed file reads as no owner.
func (p *PIDFile) Owner() (PIDInfo, bool, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return PIDInfo{}, false, nil
	}
	if err != nil {
		return PIDInfo{}, false, fmt.Errorf("failed to read pid file: %w", err)
	}

	var info PIDInfo
	if err := toml.Unmarshal(data, &info); err != nil {
		return PIDInfo{}, false, nil
	}
	if info.PID <= 0 {
		return info, false, nil
	}

	return info, processExists(info.PID), nil
}

// processExists checks liveness by sending signal 0.
func processExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
