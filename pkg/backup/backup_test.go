package backup

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/mirror"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/schedule"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/sink"
)

type recorder struct {
	percents []float64
	lines    []string
}

func (r *recorder) sink() sink.Sink {
	return sink.Funcs{
		Progress: func(p float64, _ time.Duration) { r.percents = append(r.percents, p) },
		Log:      func(line string) { r.lines = append(r.lines, line) },
	}
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, ioutil.WriteFile(path, []byte(strings.Repeat("x", size)), 0644))
}

func fixedClock() func() time.Time {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func newSchedule(t *testing.T, src, dst string) *schedule.BackupSchedule {
	t.Helper()
	s, err := schedule.New(src, dst, 5, schedule.Minutes)
	require.NoError(t, err)
	return s
}

func TestRunCopiesAndLogs(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), 10)
	writeFile(t, filepath.Join(src, "sub", "b.txt"), 20)
	writeFile(t, filepath.Join(src, "sub", "deep", "c.txt"), 30)

	r := NewRunner(WithClock(fixedClock()))
	run := r.NewRun(newSchedule(t, src, dst))
	rec := &recorder{}
	res, err := run.Execute(context.Background(), rec.sink())
	require.NoError(t, err)

	assert.Equal(t, uint64(60), res.TotalBytes)
	assert.Equal(t, uint64(60), res.BytesCopied)
	assert.Equal(t, uint64(3), res.Files)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, filepath.Join(dst, "logs", "backup_log_2024-03-01_10-00-01.txt"), res.LogFilePath)

	for i := 1; i < len(rec.percents); i++ {
		assert.GreaterOrEqual(t, rec.percents[i], rec.percents[i-1])
	}
	assert.Equal(t, float64(100), rec.percents[len(rec.percents)-1])

	assert.Contains(t, rec.lines, "Copying: a.txt")
	assert.Contains(t, rec.lines, "Copying: b.txt")
	assert.Contains(t, rec.lines, "Copying: c.txt")
	assert.True(t, strings.Contains(rec.lines[0], "Backup started"))

	data, err := ioutil.ReadFile(res.LogFilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Copying: b.txt")
	assert.Contains(t, string(data), "Backup finished: 3 files")

	got, err := ioutil.ReadFile(filepath.Join(dst, "sub", "deep", "c.txt"))
	require.NoError(t, err)
	assert.Len(t, got, 30)

	estimate, copied, total := run.Progress()
	assert.Equal(t, float64(100), estimate.Percent)
	assert.Equal(t, uint64(60), copied)
	assert.Equal(t, uint64(60), total)
}

func TestRunEmptySource(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()

	rec := &recorder{}
	res, err := NewRunner().NewRun(newSchedule(t, src, dst)).Execute(context.Background(), rec.sink())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.TotalBytes)
	assert.Contains(t, rec.percents, float64(100))
}

func TestRunMissingSource(t *testing.T) {
	src := filepath.Join(t.TempDir(), "gone")
	dst := t.TempDir()

	rec := &recorder{}
	res, err := NewRunner().NewRun(newSchedule(t, src, dst)).Execute(context.Background(), rec.sink())
	require.Error(t, err)
	var notFound *mirror.PathNotFoundError
	assert.True(t, errors.As(err, &notFound))
	assert.Equal(t, err, res.Err)

	data, err := ioutil.ReadFile(res.LogFilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ERROR")
}

func TestRunLogDirInsideSource(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), 5)
	logDir := filepath.Join(src, "runlogs")

	r := NewRunner(WithLogDir(logDir))
	s := newSchedule(t, src, dst)
	assert.Equal(t, logDir, r.LogDir(s))

	res, err := r.NewRun(s).Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), res.TotalBytes)
	assert.Equal(t, logDir, filepath.Dir(res.LogFilePath))

	_, err = os.Stat(filepath.Join(dst, "runlogs"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunContinuePolicy(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "ok.txt"), 5)
	writeFile(t, filepath.Join(src, "locked.txt"), 5)
	require.NoError(t, os.Chmod(filepath.Join(src, "locked.txt"), 0))
	defer os.Chmod(filepath.Join(src, "locked.txt"), 0644)

	r := NewRunner(WithCopyOptions(mirror.WithErrorPolicy(mirror.Continue)))
	rec := &recorder{}
	res, err := r.NewRun(newSchedule(t, src, dst)).Execute(context.Background(), rec.sink())
	var partial *mirror.PartialCopyError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, uint64(1), res.Files)

	var errLines int
	for _, l := range rec.lines {
		if strings.HasPrefix(l, "ERROR: locked.txt") {
			errLines++
		}
	}
	assert.Equal(t, 1, errLines)
}

func TestPruneLogs(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	old := filepath.Join(dir, "backup_log_2020-01-01_00-00-00.txt")
	fresh := filepath.Join(dir, "backup_log_2024-03-01_10-00-00.txt")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, other} {
		writeFile(t, p, 1)
	}
	past := now.Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	removed, err := PruneLogs(dir, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, []string{old}, removed)

	logs, err := ListLogs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{fresh}, logs)
	_, err = os.Stat(other)
	assert.NoError(t, err)

	removed, err = PruneLogs(filepath.Join(dir, "missing"), time.Hour, now)
	assert.NoError(t, err)
	assert.Empty(t, removed)
}
