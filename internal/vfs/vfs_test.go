package vfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOverlayPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.rs")
	if err := os.WriteFile(path, []byte("disk"), 0o644); err != nil {
		t.Fatal(err)
	}

	o := New()

	got, err := o.ReadFile(path)
	if err != nil || string(got) != "disk" {
		t.Fatalf("ReadFile before open = %q, %v", got, err)
	}

	o.Open(path, []byte("buffer"))
	got, err = o.ReadFile(path)
	if err != nil || string(got) != "buffer" {
		t.Fatalf("ReadFile after open = %q, %v", got, err)
	}

	o.Change(path, []byte("edited"))
	got, _ = o.ReadFile(path)
	if string(got) != "edited" {
		t.Fatalf("ReadFile after change = %q", got)
	}

	o.Close(path)
	got, err = o.ReadFile(path)
	if err != nil || string(got) != "disk" {
		t.Fatalf("ReadFile after close = %q, %v", got, err)
	}
}

func TestOverlayMissingFileFallsThrough(t *testing.T) {
	o := New()
	if _, err := o.ReadFile(filepath.Join(t.TempDir(), "missing.rs")); err == nil {
		t.Error("ReadFile of missing path should error")
	}
}

func TestOverlayCopiesContent(t *testing.T) {
	o := New()
	buf := []byte("original")
	o.Open("p", buf)
	buf[0] = 'X'

	got, _ := o.Get("p")
	if string(got) != "original" {
		t.Errorf("Get() = %q, overlay must copy content", got)
	}

	// Mutating the returned slice must not affect the overlay either.
	got[0] = 'Y'
	again, _ := o.Get("p")
	if string(again) != "original" {
		t.Errorf("Get() after mutation = %q", again)
	}
}

func TestOverlayPaths(t *testing.T) {
	o := New()
	o.Open("b", nil)
	o.Open("a", nil)

	paths := o.Paths()
	if len(paths) != 2 || paths[0] != "a" || paths[1] != "b" {
		t.Errorf("Paths() = %v", paths)
	}
	if !o.Has("a") || o.Has("c") {
		t.Error("Has() mismatch")
	}
}
