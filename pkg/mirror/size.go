package mirror

import (
	"errors"
	"os"
	"path/filepath"
)

var errNotDir = errors.New("not a directory")

// Size returns the total size in bytes of the files a copy of path would transfer.
// Directories listed in exclude are not descended into.
func Size(path string, exclude ...string) (uint64, error) {
	if err := statDir(path); err != nil {
		return 0, err
	}
	ex := make([]string, 0, len(exclude))
	for _, e := range exclude {
		ex = append(ex, absClean(e))
	}
	return sizeDir(absClean(path), ex)
}

func sizeDir(dir string, exclude []string) (uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, &IOError{Op: "read dir", Path: dir, Err: err}
	}

	var size uint64
	for _, de := range entries {
		k, fi := classify(dir, de)
		switch k {
		case kindFile:
			size += uint64(fi.Size())
		case kindDir:
			sub := filepath.Join(dir, de.Name())
			if excluded(sub, exclude) {
				continue
			}
			n, err := sizeDir(sub, exclude)
			if err != nil {
				return 0, err
			}
			size += n
		}
	}
	return size, nil
}
