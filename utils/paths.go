package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// FindFile looks for name in the working directory and then in its parent,
// so commands work both from the repo root and from a package directory.
func FindFile(name string) (string, error) {
	for _, dir := range []string{".", ".."} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("cannot find %s in either current or parent directory", name)
}
