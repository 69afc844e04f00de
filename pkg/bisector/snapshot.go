package bisector

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/otiai10/copy"
)

// snapshot copies the passed executables into a new temporary directory, s.t. they can't change while they are being bisected.
// It returns the directory and the paths of the copies, in the order of the passed paths.
func snapshot(paths ...string) (string, []string, error) {
	dir, err := os.MkdirTemp("", "bisector-")
	if err != nil {
		return "", nil, err
	}

	copies := make([]string, len(paths))
	for i, path := range paths {
		// Prefix with the index, as both builds are likely named the same
		dst := filepath.Join(dir, fmt.Sprintf("%d-%s", i, filepath.Base(path)))
		if err := copy.Copy(path, dst, copy.Options{Sync: true}); err != nil {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("failed to snapshot %s - %v", path, err)
		}
		copies[i] = dst
	}

	return dir, copies, nil
}
