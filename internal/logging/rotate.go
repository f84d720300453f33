package logging

import (
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// DefaultMaxLogBytes is the rotation threshold for the daemon log.
const DefaultMaxLogBytes = 10 * 1024 * 1024

// RotateIfLarge compresses the log into <path>.1.gz and truncates it
// once it exceeds maxBytes. The previous rotation is replaced.
func RotateIfLarge(path string, maxBytes int64) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() <= maxBytes {
		return nil
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".1.gz")
	if err != nil {
		return err
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}

	return os.Truncate(path, 0)
}
