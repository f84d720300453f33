package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/necessary-nu/tracey/internal/logging"
	"github.com/necessary-nu/tracey/internal/paths"
	"github.com/necessary-nu/tracey/internal/query"
	"github.com/necessary-nu/tracey/internal/version"
)

func quietLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: logging.ErrorLevel, Output: io.Discard})
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func startDaemon(t *testing.T, root string) *Daemon {
	t.Helper()
	d := New(root, quietLogger(), Options{Watch: false})
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { d.Stop() })
	return d
}

func setupWorkspace(t *testing.T) string {
	root := t.TempDir()
	writeFile(t, root, paths.ConfigRelPath, `
specs:
  - name: core
    prefix: r
    include: [docs/**/*.md]
    impls:
      - name: rust
        include: [src/**/*.rs]
        test_include: [tests/**]
`)
	writeFile(t, root, "docs/s.md", "r[auth.login]\nUsers MUST authenticate.\n")
	writeFile(t, root, "src/a.rs", "// r[impl auth.login]\nfn x(){}\n")
	return root
}

func TestStartPublishesFirstSnapshot(t *testing.T) {
	root := setupWorkspace(t)
	d := startDaemon(t, root)

	if d.Version() != 1 {
		t.Errorf("Version() = %d, want 1", d.Version())
	}
	snap := d.Snapshot()
	if snap.SpecByName("core") == nil {
		t.Error("snapshot missing spec core")
	}
}

func TestClientStatusCall(t *testing.T) {
	root := setupWorkspace(t)
	startDaemon(t, root)

	c, err := Connect(root)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	var report query.StatusReport
	if err := c.Call(context.Background(), MethodStatus, nil, &report); err != nil {
		t.Fatalf("Call(status) error = %v", err)
	}
	if len(report.Pairs) != 1 || report.Pairs[0].Stats.ImplPercent != 100 {
		t.Errorf("report = %+v", report)
	}
}

func TestVfsChangeObservedByNextQuery(t *testing.T) {
	root := setupWorkspace(t)
	startDaemon(t, root)

	c, err := Connect(root)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()

	var v VersionParams
	err = c.Call(ctx, MethodVfsChange, VfsParams{
		Path:    "src/a.rs",
		Content: "// nothing here anymore\nfn x(){}\n",
	}, &v)
	if err != nil {
		t.Fatalf("Call(vfs_change) error = %v", err)
	}
	if v.Version < 2 {
		t.Errorf("version after vfs_change = %d, want >= 2", v.Version)
	}

	var report query.StatusReport
	if err := c.Call(ctx, MethodStatus, nil, &report); err != nil {
		t.Fatalf("Call(status) error = %v", err)
	}
	if report.Pairs[0].Stats.CoveredImpl != 0 {
		t.Errorf("CoveredImpl = %d, want 0 after overlay change", report.Pairs[0].Stats.CoveredImpl)
	}
}

func TestVersionNotificationsMonotonic(t *testing.T) {
	root := setupWorkspace(t)
	d := startDaemon(t, root)

	c, err := Connect(root)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	var mu sync.Mutex
	var seen []uint64
	base, err := c.Subscribe(context.Background(), func(v uint64) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if base != d.Version() {
		t.Errorf("Subscribe() version = %d, want %d", base, d.Version())
	}

	for i := 0; i < 3; i++ {
		d.buildNow(context.Background())
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		caughtUp := len(seen) > 0 && seen[len(seen)-1] == d.Version()
		mu.Unlock()
		if caughtUp {
			break
		}
		select {
		case <-deadline:
			t.Fatal("never received the latest version notification")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Errorf("notifications not monotonic: %v", seen)
		}
	}
}

func TestSecondDaemonLoses(t *testing.T) {
	root := setupWorkspace(t)
	startDaemon(t, root)

	second := New(root, quietLogger(), Options{Watch: false})
	if err := second.Start(); err == nil {
		second.Stop()
		t.Fatal("second daemon should fail to start")
	}
}

func TestStaleSocketRemoved(t *testing.T) {
	root := setupWorkspace(t)

	// Leave a dead socket file behind.
	if _, err := paths.EnsureStateDir(root); err != nil {
		t.Fatal(err)
	}
	writeFile(t, root, ".tracey/daemon.sock", "")

	d := startDaemon(t, root)
	if d.Version() != 1 {
		t.Errorf("daemon did not start over stale socket")
	}
}

func TestPIDFileRecordsProtocol(t *testing.T) {
	root := setupWorkspace(t)
	startDaemon(t, root)

	info, running, err := Running(root)
	if err != nil {
		t.Fatalf("Running() error = %v", err)
	}
	if !running {
		t.Fatal("daemon should be running")
	}
	if info.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", info.PID, os.Getpid())
	}
	if info.Protocol != version.Protocol {
		t.Errorf("Protocol = %d, want %d", info.Protocol, version.Protocol)
	}
}

func TestDeadlineExceeded(t *testing.T) {
	root := setupWorkspace(t)
	startDaemon(t, root)

	c, err := Connect(root)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	if err := c.Call(ctx, MethodStatus, nil, nil); err == nil {
		t.Error("expired deadline should fail the call")
	}
}

func TestRuleQuery(t *testing.T) {
	root := setupWorkspace(t)
	startDaemon(t, root)

	c, err := Connect(root)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	var detail query.RuleDetail
	if err := c.Call(context.Background(), MethodRule, RuleParams{ID: "auth.login"}, &detail); err != nil {
		t.Fatalf("Call(rule) error = %v", err)
	}
	if detail.Spec != "core" || len(detail.Refs) != 1 {
		t.Errorf("detail = %+v", detail)
	}

	err = c.Call(context.Background(), MethodRule, RuleParams{ID: "no.such.rule"}, nil)
	if err == nil {
		t.Error("unknown rule should fail")
	}
}

func TestFileRangeOverSocket(t *testing.T) {
	root := setupWorkspace(t)
	startDaemon(t, root)

	c, err := Connect(root)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()

	var r struct {
		Content  string `json:"content"`
		FileHash string `json:"fileHash"`
	}
	err = c.Call(ctx, MethodFileRangeFetch, FileRangeParams{Path: "docs/s.md", Start: 0, End: 13}, &r)
	if err != nil {
		t.Fatalf("fetch error = %v", err)
	}
	if r.Content != "r[auth.login]" {
		t.Errorf("Content = %q", r.Content)
	}

	// Patch with the wrong hash must fail and leave the file alone.
	err = c.Call(ctx, MethodFileRangePatch, FileRangeParams{
		Path: "docs/s.md", Start: 0, End: 13, Content: "r[auth.login+2]", FileHash: "bogus",
	}, nil)
	if err == nil {
		t.Fatal("patch with stale hash should fail")
	}

	data, _ := os.ReadFile(filepath.Join(root, "docs", "s.md"))
	if string(data) != "r[auth.login]\nUsers MUST authenticate.\n" {
		t.Errorf("file changed after hash conflict: %q", data)
	}

	// Patch with the right hash succeeds.
	err = c.Call(ctx, MethodFileRangePatch, FileRangeParams{
		Path: "docs/s.md", Start: 0, End: 13, Content: "r[auth.login+2]", FileHash: r.FileHash,
	}, nil)
	if err != nil {
		t.Fatalf("patch error = %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(root, "docs", "s.md"))
	if string(data) != "r[auth.login+2]\nUsers MUST authenticate.\n" {
		t.Errorf("file = %q", data)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	root := setupWorkspace(t)
	startDaemon(t, root)

	c, err := Connect(root)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	err = c.Call(context.Background(), MethodFileRangeFetch, FileRangeParams{
		Path: "../outside.md", Start: 0, End: 1,
	}, nil)
	if err == nil {
		t.Error("path escape should be rejected")
	}
}
