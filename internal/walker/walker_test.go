package walker

import (
	"os"
	"path/filepath"
	"testing"
)

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

func TestMatchIncludesAndExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.rs", "")
	writeFile(t, root, "src/sub/b.rs", "")
	writeFile(t, root, "src/generated/c.rs", "")
	writeFile(t, root, "docs/s.md", "")

	w := New(root)
	files, err := w.Match([]string{"src/**/*.rs"}, []string{"src/generated/**"})
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	want := []string{"src/a.rs", "src/sub/b.rs"}
	if len(files) != len(want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestMatchHonorsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "target/\n*.tmp.rs\n")
	writeFile(t, root, "src/a.rs", "")
	writeFile(t, root, "src/x.tmp.rs", "")
	writeFile(t, root, "target/gen.rs", "")

	w := New(root)
	files, err := w.Match([]string{"**/*.rs"}, nil)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	if len(files) != 1 || files[0] != "src/a.rs" {
		t.Errorf("files = %v, want [src/a.rs]", files)
	}
}

func TestMatchSkipsGitDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".git/objects/a.rs", "")
	writeFile(t, root, "src/a.rs", "")

	w := New(root)
	files, err := w.Match([]string{"**/*.rs"}, nil)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if len(files) != 1 || files[0] != "src/a.rs" {
		t.Errorf("files = %v, want [src/a.rs]", files)
	}
}

func TestMatchesFile(t *testing.T) {
	root := t.TempDir()
	w := New(root)

	if !w.MatchesFile("src/a.rs", []string{"src/**/*.rs"}, nil) {
		t.Error("src/a.rs should match")
	}
	if w.MatchesFile("src/a.rs", []string{"src/**/*.rs"}, []string{"src/**"}) {
		t.Error("excluded path should not match")
	}
	if w.MatchesFile("docs/s.md", []string{"src/**/*.rs"}, nil) {
		t.Error("non-included path should not match")
	}
}

func TestBaseDirs(t *testing.T) {
	dirs := BaseDirs([]string{"src/**/*.rs", "docs/spec/**/*.md", "README.md", "**/*.go"})

	want := map[string]bool{"src": true, "docs/spec": true, ".": true}
	if len(dirs) != len(want) {
		t.Fatalf("BaseDirs() = %v, want keys %v", dirs, want)
	}
	for _, d := range dirs {
		if !want[d] {
			t.Errorf("unexpected dir %q in %v", d, dirs)
		}
	}
}

func TestGitignoreNegation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "*.rs\n!keep.rs\n")
	writeFile(t, root, "drop.rs", "")
	writeFile(t, root, "keep.rs", "")

	w := New(root)
	files, err := w.Match([]string{"**/*.rs"}, nil)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if len(files) != 1 || files[0] != "keep.rs" {
		t.Errorf("files = %v, want [keep.rs]", files)
	}
}
