package bump

import (
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

func globMatch(pattern, path string) bool {
	ok, err := doublestar.Match(pattern, path)
	return err == nil && ok
}

func writeWorkingTree(root, file, content string) error {
	path := filepath.Join(root, filepath.FromSlash(file))
	return os.WriteFile(path, []byte(content), 0o644)
}
