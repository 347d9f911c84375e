package mirror

import (
	"fmt"
	"strings"
)

// PathNotFoundError is returned when a source tree is missing or is not a directory.
type PathNotFoundError struct {
	Path string
	Err  error
}

func (e *PathNotFoundError) Error() string {
	if e.Err == nil {
		return "path not found: " + e.Path
	}
	return fmt.Sprintf("path not found: %s: %v", e.Path, e.Err)
}

func (e *PathNotFoundError) Unwrap() error {
	return e.Err
}

// IOError wraps a filesystem failure with the operation and path that caused it.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// FileError records a single failed file under the Continue policy.
type FileError struct {
	Path string
	Err  error
}

// PartialCopyError is returned by a Continue-policy copy that finished with
// failed files.
type PartialCopyError struct {
	Failed []FileError
}

func (e *PartialCopyError) Error() string {
	paths := make([]string, 0, len(e.Failed))
	for i, f := range e.Failed {
		if i == 3 {
			paths = append(paths, fmt.Sprintf("and %d more", len(e.Failed)-i))
			break
		}
		paths = append(paths, f.Path)
	}
	return fmt.Sprintf("%d files failed to copy: %s", len(e.Failed), strings.Join(paths, ", "))
}

// VerifyError is returned when the copied tree does not hash to the same value as
// the source files it was copied from.
type VerifyError struct {
	SourceHash      string
	DestinationHash string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify failed: source %s, destination %s", e.SourceHash, e.DestinationHash)
}
