// Package patch implements the file-range fetch/patch surface over the
// engine's persistent files.
//
// Fetch returns a validated UTF-8 byte range plus a digest of the whole
// file; Apply replaces a range only when the caller's digest still
// matches, writing atomically (temp file, fsync, rename).
package patch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/necessary-nu/tracey/internal/errors"
)

// Range is the result of a fetch.
type Range struct {
	Content  string `json:"content"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	FileHash string `json:"fileHash"`
}

// Result is the outcome of a successful patch.
type Result struct {
	Start       int    `json:"start"`
	End         int    `json:"end"`
	NewFileHash string `json:"newFileHash"`
}

// HashBytes computes the hex digest of full file contents.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// utf8Boundary reports whether offset falls on a rune boundary of data.
// Offsets at either end of the buffer always qualify.
func utf8Boundary(data []byte, offset int) bool {
	if offset == 0 || offset == len(data) {
		return true
	}
	return !isContinuation(data[offset])
}

func isContinuation(b byte) bool {
	return b&0xC0 == 0x80
}

// Fetch reads the byte interval [start, end) of a file. The range must
// be in bounds, non-empty, and must not split a multi-byte code point.
func Fetch(path string, start, end int) (Range, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Range{}, errors.Wrap(errors.FileNotFound, path, err)
		}
		return Range{}, errors.Wrap(errors.InternalError, "read "+path, err)
	}

	if start < 0 || end <= start || end > len(data) {
		return Range{}, errors.New(errors.RangeInvalid,
			fmt.Sprintf("range [%d, %d) out of bounds for %d-byte file", start, end, len(data)))
	}
	if !utf8Boundary(data, start) || !utf8Boundary(data, end) {
		return Range{}, errors.New(errors.RangeNotUTF8,
			fmt.Sprintf("range [%d, %d) splits a multi-byte code point", start, end))
	}
	if !utf8.Valid(data[start:end]) {
		return Range{}, errors.New(errors.RangeNotUTF8,
			fmt.Sprintf("range [%d, %d) is not valid UTF-8", start, end))
	}

	return Range{
		Content:  string(data[start:end]),
		Start:    start,
		End:      end,
		FileHash: HashBytes(data),
	}, nil
}

// Apply replaces the byte interval [start, end) of a file with
// replacement, but only when the file's current digest equals
// expectedHash. The write is atomic: a same-directory temp file is
// fsynced and renamed over the original.
func Apply(path string, start, end int, replacement string, expectedHash string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, errors.Wrap(errors.FileNotFound, path, err)
		}
		return Result{}, errors.Wrap(errors.InternalError, "read "+path, err)
	}

	if current := HashBytes(data); current != expectedHash {
		return Result{}, errors.New(errors.HashConflict,
			"file changed since fetch").WithDetails(map[string]string{
			"expected": expectedHash,
			"actual":   current,
		})
	}

	if start < 0 || end < start || end > len(data) {
		return Result{}, errors.New(errors.RangeInvalid,
			fmt.Sprintf("range [%d, %d) out of bounds for %d-byte file", start, end, len(data)))
	}
	if !utf8Boundary(data, start) || !utf8Boundary(data, end) {
		return Result{}, errors.New(errors.RangeNotUTF8,
			fmt.Sprintf("range [%d, %d) splits a multi-byte code point", start, end))
	}

	next := make([]byte, 0, len(data)-(end-start)+len(replacement))
	next = append(next, data[:start]...)
	next = append(next, replacement...)
	next = append(next, data[end:]...)

	if err := writeAtomic(path, next); err != nil {
		return Result{}, errors.Wrap(errors.InternalError, "write "+path, err)
	}

	return Result{
		Start:       start,
		End:         start + len(replacement),
		NewFileHash: HashBytes(next),
	}, nil
}

// writeAtomic writes data to a same-directory temp file, fsyncs it, and
// renames it over dest. The parent directory is fsynced best-effort to
// persist the rename.
func writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tracey-patch-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if info, err := os.Stat(dest); err == nil {
		_ = os.Chmod(tmpPath, info.Mode())
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	defer f.Close()
	_ = f.Sync()
}
