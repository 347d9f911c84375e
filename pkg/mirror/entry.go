package mirror

import (
	"os"
	"path/filepath"
)

type kind int

const (
	kindSkip kind = iota
	kindFile
	kindDir
)

// classify decides how a directory entry takes part in a backup. Symlinks to files
// are copied as regular files, symlinks to directories are never followed, so the
// walk cannot loop. Dangling links and special files are skipped.
func classify(dir string, de os.DirEntry) (kind, os.FileInfo) {
	mode := de.Type()
	switch {
	case mode.IsRegular():
		fi, err := de.Info()
		if err != nil {
			return kindSkip, nil
		}
		return kindFile, fi
	case mode.IsDir():
		fi, err := de.Info()
		if err != nil {
			return kindSkip, nil
		}
		return kindDir, fi
	case mode&os.ModeSymlink != 0:
		fi, err := os.Stat(filepath.Join(dir, de.Name()))
		if err != nil || !fi.Mode().IsRegular() {
			return kindSkip, fi
		}
		return kindFile, fi
	}
	return kindSkip, nil
}

func absClean(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func excluded(path string, exclude []string) bool {
	for _, e := range exclude {
		if path == e {
			return true
		}
	}
	return false
}

func statDir(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &PathNotFoundError{Path: path, Err: err}
		}
		return &IOError{Op: "stat", Path: path, Err: err}
	}
	if !fi.IsDir() {
		return &PathNotFoundError{Path: path, Err: errNotDir}
	}
	return nil
}
