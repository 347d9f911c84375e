package mirror

import (
	"context"
	"errors"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + (i+len(path))%26)
	}
	require.NoError(t, ioutil.WriteFile(path, data, 0644))
}

// buildTree creates files of 10, 20 and 30 bytes across nested directories.
func buildTree(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "src")
	writeFile(t, filepath.Join(root, "a.txt"), 10)
	writeFile(t, filepath.Join(root, "docs", "b.txt"), 20)
	writeFile(t, filepath.Join(root, "docs", "deep", "er", "c.bin"), 30)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))
	return root
}

type recorder struct {
	copied map[string]uint64
	order  []string
	failed map[string]error
}

func newRecorder() *recorder {
	return &recorder{copied: map[string]uint64{}, failed: map[string]error{}}
}

func (r *recorder) FileCopied(rel string, n uint64) {
	r.copied[rel] += n
	r.order = append(r.order, rel)
}

func (r *recorder) FileFailed(rel string, err error) {
	r.failed[rel] = err
}

func TestSize(t *testing.T) {
	root := buildTree(t)
	n, err := Size(root)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), n)

	n, err = Size(root, filepath.Join(root, "docs"))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n)
}

func TestSizeEmpty(t *testing.T) {
	n, err := Size(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestSizeNotFound(t *testing.T) {
	_, err := Size(filepath.Join(t.TempDir(), "missing"))
	var perr *PathNotFoundError
	require.True(t, errors.As(err, &perr))

	file := filepath.Join(t.TempDir(), "file")
	writeFile(t, file, 3)
	_, err = Size(file)
	require.True(t, errors.As(err, &perr))
}

func TestSizeSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := buildTree(t)
	require.NoError(t, os.Symlink(filepath.Join(root, "a.txt"), filepath.Join(root, "link.txt")))
	require.NoError(t, os.Symlink(root, filepath.Join(root, "docs", "loop")))
	require.NoError(t, os.Symlink(filepath.Join(root, "gone"), filepath.Join(root, "dangling")))

	n, err := Size(root)
	require.NoError(t, err)
	assert.Equal(t, uint64(70), n)
}

func TestCopy(t *testing.T) {
	src := buildTree(t)
	dst := filepath.Join(t.TempDir(), "dst")
	total, err := Size(src)
	require.NoError(t, err)

	rec := newRecorder()
	res, err := NewCopier(WithVerify(true)).Copy(context.Background(), src, dst, rec)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), res.Files)
	assert.Equal(t, total, res.Bytes)
	assert.Len(t, rec.order, 3)
	assert.Equal(t, "a.txt", rec.order[0], "files of a level come before its subdirectories")

	for _, rel := range []string{"a.txt", filepath.Join("docs", "b.txt"), filepath.Join("docs", "deep", "er", "c.bin")} {
		want, err := ioutil.ReadFile(filepath.Join(src, rel))
		require.NoError(t, err)
		got, err := ioutil.ReadFile(filepath.Join(dst, rel))
		require.NoError(t, err)
		assert.Equal(t, want, got, rel)
		assert.Equal(t, uint64(len(want)), rec.copied[rel])
	}
	fi, err := os.Stat(filepath.Join(dst, "empty"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestCopyOverwrites(t *testing.T) {
	src := buildTree(t)
	dst := filepath.Join(t.TempDir(), "dst")
	writeFile(t, filepath.Join(dst, "a.txt"), 500)
	writeFile(t, filepath.Join(dst, "stale.txt"), 5)
	require.NoError(t, os.Chmod(filepath.Join(dst, "a.txt"), 0444))

	_, err := NewCopier().Copy(context.Background(), src, dst, nil)
	require.NoError(t, err)

	got, err := ioutil.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	assert.Len(t, got, 10)
	_, err = os.Stat(filepath.Join(dst, "stale.txt"))
	assert.NoError(t, err, "files missing from the source are left alone")
}

func TestCopySourceMissing(t *testing.T) {
	_, err := NewCopier().Copy(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir(), nil)
	var perr *PathNotFoundError
	assert.True(t, errors.As(err, &perr))
}

func TestCopyDestinationInsideSource(t *testing.T) {
	src := buildTree(t)
	dst := filepath.Join(src, "backup")

	res, err := NewCopier().Copy(context.Background(), src, dst, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Files)
	_, err = os.Stat(filepath.Join(dst, "backup"))
	assert.True(t, os.IsNotExist(err))

	_, err = NewCopier().Copy(context.Background(), src, src, nil)
	assert.Error(t, err)
}

// blockFile makes docs/b.txt impossible to write in the destination by putting a
// directory where the file belongs.
func blockFile(t *testing.T, dst string) {
	require.NoError(t, os.MkdirAll(filepath.Join(dst, "docs", "b.txt"), 0755))
}

func TestCopyAbortPolicy(t *testing.T) {
	src := buildTree(t)
	dst := filepath.Join(t.TempDir(), "dst")
	blockFile(t, dst)

	rec := newRecorder()
	_, err := NewCopier().Copy(context.Background(), src, dst, rec)
	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr), "got %v", err)
	assert.Contains(t, rec.failed, filepath.Join("docs", "b.txt"))
	assert.NotContains(t, rec.copied, filepath.Join("docs", "deep", "er", "c.bin"))
}

func TestCopyContinuePolicy(t *testing.T) {
	src := buildTree(t)
	dst := filepath.Join(t.TempDir(), "dst")
	blockFile(t, dst)

	rec := newRecorder()
	res, err := NewCopier(WithErrorPolicy(Continue)).Copy(context.Background(), src, dst, rec)
	var perr *PartialCopyError
	require.True(t, errors.As(err, &perr), "got %v", err)
	require.Len(t, perr.Failed, 1)
	assert.Equal(t, filepath.Join("docs", "b.txt"), perr.Failed[0].Path)
	assert.Equal(t, uint64(2), res.Files)
	assert.Contains(t, rec.copied, filepath.Join("docs", "deep", "er", "c.bin"))
}

func TestCopyCancelled(t *testing.T) {
	src := buildTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCopier().Copy(ctx, src, filepath.Join(t.TempDir(), "dst"), nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestVerifyMismatch(t *testing.T) {
	src := buildTree(t)
	dst := filepath.Join(t.TempDir(), "dst")
	_, err := NewCopier().Copy(context.Background(), src, dst, nil)
	require.NoError(t, err)

	require.NoError(t, verifyCopy(src, dst, []string{"a.txt", "docs/b.txt"}))

	writeFile(t, filepath.Join(dst, "a.txt"), 11)
	err = verifyCopy(src, dst, []string{"a.txt", "docs/b.txt"})
	var verr *VerifyError
	assert.True(t, errors.As(err, &verr))
}

func TestParseErrorPolicy(t *testing.T) {
	for in, want := range map[string]ErrorPolicy{"": Abort, "abort": Abort, "Continue": Continue} {
		got, err := ParseErrorPolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NotEmpty(t, got.String())
	}
	_, err := ParseErrorPolicy("skip")
	assert.Error(t, err)
}

func TestPartialCopyErrorMessage(t *testing.T) {
	err := &PartialCopyError{Failed: []FileError{{Path: "a"}, {Path: "b"}, {Path: "c"}, {Path: "d"}, {Path: "e"}}}
	assert.Equal(t, "5 files failed to copy: a, b, c, and 2 more", err.Error())
}

// countingLimiter counts the bytes passing through each side of a copy.
type countingLimiter struct {
	read, written int64
}

type countingReader struct {
	r io.Reader
	n *int64
}

func (c countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += int64(n)
	return n, err
}

type countingWriter struct {
	w io.Writer
	n *int64
}

func (c countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	*c.n += int64(n)
	return n, err
}

func (l *countingLimiter) Reader(_ context.Context, r io.Reader) io.Reader {
	return countingReader{r: r, n: &l.read}
}

func (l *countingLimiter) Writer(_ context.Context, w io.Writer) io.Writer {
	return countingWriter{w: w, n: &l.written}
}

func TestCopyLimitsReadsAndWrites(t *testing.T) {
	src := buildTree(t)
	dst := filepath.Join(t.TempDir(), "dst")
	l := &countingLimiter{}

	res, err := NewCopier(WithLimiter(l)).Copy(context.Background(), src, dst, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), res.Bytes)
	assert.Equal(t, int64(60), l.read)
	assert.Equal(t, int64(60), l.written)

	data, err := ioutil.ReadFile(filepath.Join(dst, "docs", "deep", "er", "c.bin"))
	require.NoError(t, err)
	assert.Len(t, data, 30)
}
