package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/necessary-nu/tracey/internal/errors"
)

func tempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFetchReturnsRangeAndHash(t *testing.T) {
	path := tempFile(t, "hello world")

	r, err := Fetch(path, 0, 5)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if r.Content != "hello" {
		t.Errorf("Content = %q", r.Content)
	}
	if r.FileHash != HashBytes([]byte("hello world")) {
		t.Errorf("FileHash mismatch")
	}
}

func TestFetchRejectsBadRanges(t *testing.T) {
	path := tempFile(t, "hello")

	tests := []struct {
		name       string
		start, end int
	}{
		{"negative start", -1, 3},
		{"empty", 2, 2},
		{"inverted", 3, 1},
		{"past end", 0, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fetch(path, tt.start, tt.end)
			if errors.CodeOf(err) != errors.RangeInvalid {
				t.Errorf("error = %v, want RANGE_INVALID", err)
			}
		})
	}
}

func TestFetchRejectsSplitCodePoint(t *testing.T) {
	path := tempFile(t, "héllo") // é is two bytes

	_, err := Fetch(path, 0, 2)
	if errors.CodeOf(err) != errors.RangeNotUTF8 {
		t.Errorf("error = %v, want RANGE_NOT_UTF8", err)
	}

	if _, err := Fetch(path, 0, 3); err != nil {
		t.Errorf("whole-rune range should succeed, got %v", err)
	}
}

func TestApplyReplacesRange(t *testing.T) {
	path := tempFile(t, "hello world")
	hash := HashBytes([]byte("hello world"))

	res, err := Apply(path, 0, 5, "goodbye", hash)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "goodbye world" {
		t.Errorf("file = %q", data)
	}
	if res.End != len("goodbye") {
		t.Errorf("End = %d, want %d", res.End, len("goodbye"))
	}
	if res.NewFileHash != HashBytes(data) {
		t.Errorf("NewFileHash mismatch")
	}
}

func TestApplyHashConflictLeavesFileUnchanged(t *testing.T) {
	path := tempFile(t, "original content")
	staleHash := HashBytes([]byte("some earlier content"))

	_, err := Apply(path, 0, 8, "replacement", staleHash)
	if errors.CodeOf(err) != errors.HashConflict {
		t.Fatalf("error = %v, want HASH_CONFLICT", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "original content" {
		t.Errorf("file = %q, must be unchanged after conflict", data)
	}
}

func TestApplyInsertAtPoint(t *testing.T) {
	path := tempFile(t, "ab")
	hash := HashBytes([]byte("ab"))

	if _, err := Apply(path, 1, 1, "X", hash); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "aXb" {
		t.Errorf("file = %q, want aXb", data)
	}
}

func TestApplyMissingFile(t *testing.T) {
	_, err := Apply(filepath.Join(t.TempDir(), "nope.md"), 0, 1, "x", "deadbeef")
	if errors.CodeOf(err) != errors.FileNotFound {
		t.Errorf("error = %v, want FILE_NOT_FOUND", err)
	}
}

func TestFetchAfterApplySeesFullNewContent(t *testing.T) {
	path := tempFile(t, "aaaa bbbb cccc")
	hash := HashBytes([]byte("aaaa bbbb cccc"))

	res, err := Apply(path, 5, 9, "XXXX", hash)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	r, err := Fetch(path, 0, 14)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if r.Content != "aaaa XXXX cccc" {
		t.Errorf("Content = %q", r.Content)
	}
	if r.FileHash != res.NewFileHash {
		t.Errorf("post-patch fetch hash %q != patch result hash %q", r.FileHash, res.NewFileHash)
	}
}
