package mirror

import (
	"io"
	"os"
	"path/filepath"

	"golang.org/x/mod/sumdb/dirhash"
)

// verifyCopy hashes the copied files once from the source tree and once from the
// destination tree. Files outside the list (older content in the destination) do
// not take part.
func verifyCopy(src, dst string, files []string) error {
	if len(files) == 0 {
		return nil
	}
	srcHash, err := dirhash.Hash1(files, opener(src))
	if err != nil {
		return &IOError{Op: "hash", Path: src, Err: err}
	}
	dstHash, err := dirhash.Hash1(files, opener(dst))
	if err != nil {
		return &IOError{Op: "hash", Path: dst, Err: err}
	}
	if srcHash != dstHash {
		return &VerifyError{SourceHash: srcHash, DestinationHash: dstHash}
	}
	return nil
}

func opener(root string) func(string) (io.ReadCloser, error) {
	return func(name string) (io.ReadCloser, error) {
		return os.Open(filepath.Join(root, filepath.FromSlash(name)))
	}
}
