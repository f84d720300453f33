package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/necessary-nu/tracey/internal/logging"
	"github.com/necessary-nu/tracey/internal/model"
	"github.com/necessary-nu/tracey/internal/paths"
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

func TestBuildEndToEnd(t *testing.T) {
	root := setupWorkspace(t)
	e := New(root, quietLogger(), Options{})
	defer e.Close()

	snap, err := e.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	spec := snap.SpecByName("core")
	if spec == nil {
		t.Fatal("spec core missing")
	}
	impl := spec.ImplByName("rust")
	if impl.Stats.CoveredImpl != 1 || impl.Stats.ImplPercent != 100 {
		t.Errorf("stats = %+v", impl.Stats)
	}
}

func TestBuildWithoutConfigYieldsEmptySnapshot(t *testing.T) {
	root := t.TempDir()
	e := New(root, quietLogger(), Options{})
	defer e.Close()

	snap, err := e.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(snap.Specs) != 0 {
		t.Errorf("Specs = %+v, want empty", snap.Specs)
	}
}

func TestBuildConfigParseFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, paths.ConfigRelPath, "specs: [unclosed\n")

	e := New(root, quietLogger(), Options{})
	defer e.Close()

	if _, err := e.Build(context.Background()); err == nil {
		t.Fatal("Build() should fail on unparsable config")
	}
	if _, cfgErr := e.Config(); cfgErr == nil {
		t.Error("Config() should report the parse error")
	}
}

func TestBuildObservesOverlay(t *testing.T) {
	root := setupWorkspace(t)
	e := New(root, quietLogger(), Options{})
	defer e.Close()

	abs := paths.Join(root, "src/a.rs")
	e.Overlay().Open(abs, []byte("// no references here\nfn x(){}\n"))

	snap, err := e.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	impl := snap.SpecByName("core").ImplByName("rust")
	if impl.Stats.CoveredImpl != 0 {
		t.Errorf("CoveredImpl = %d, want 0 (overlay should shadow disk)", impl.Stats.CoveredImpl)
	}

	e.Overlay().Close(abs)
	snap, _ = e.Build(context.Background())
	impl = snap.SpecByName("core").ImplByName("rust")
	if impl.Stats.CoveredImpl != 1 {
		t.Errorf("CoveredImpl = %d, want 1 after overlay close", impl.Stats.CoveredImpl)
	}
}

func TestBuildMissingIncludeWarning(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, paths.ConfigRelPath, `
specs:
  - name: core
    prefix: r
    include: [nowhere/**/*.md]
`)

	e := New(root, quietLogger(), Options{})
	defer e.Close()

	snap, err := e.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	found := false
	for _, is := range snap.Issues {
		if is.Code == model.CodeMissingInclude {
			found = true
		}
	}
	if !found {
		t.Errorf("issues = %+v, want missing_include warning", snap.Issues)
	}
}

func TestBuildTestFileDiscipline(t *testing.T) {
	root := setupWorkspace(t)
	writeFile(t, root, "tests/t.rs", "// r[impl auth.login]\n")

	e := New(root, quietLogger(), Options{})
	defer e.Close()

	snap, err := e.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	found := false
	for _, is := range snap.Issues {
		if is.Code == model.CodeImplInTestFile {
			found = true
		}
	}
	if !found {
		t.Errorf("issues = %+v, want impl_in_test_file", snap.Issues)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	root := setupWorkspace(t)
	e := New(root, quietLogger(), Options{Cache: true})
	defer e.Close()

	first, err := e.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	second, err := e.Build(context.Background())
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}

	fi := first.SpecByName("core").ImplByName("rust")
	si := second.SpecByName("core").ImplByName("rust")
	if fi.Stats != si.Stats {
		t.Errorf("stats differ across cached rebuild: %+v vs %+v", fi.Stats, si.Stats)
	}
	refs := si.RefsByBase["auth.login"]
	if len(refs) != 1 || refs[0].ByteOffset != 3 {
		t.Errorf("cached refs = %+v", refs)
	}
}
