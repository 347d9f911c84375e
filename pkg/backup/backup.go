package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/mirror"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/progress"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/schedule"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/sink"
)

const (
	logDirName     = "logs"
	logFilePrefix  = "backup_log_"
	logFileSuffix  = ".txt"
	logFileLayout  = "2006-01-02_15-04-05"
	lineTimeLayout = "2006-01-02 15:04:05"
	separator      = "-------------------------------------------"
)

// Runner creates and executes backup runs.
type Runner struct {
	copyOpts []mirror.Option
	logDir   string
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Runner.
type Option func(r *Runner)

// WithCopyOptions returns an Option which set the options of every run's copier.
func WithCopyOptions(opts ...mirror.Option) Option {
	return func(r *Runner) {
		r.copyOpts = append(r.copyOpts, opts...)
	}
}

// WithLogDir returns an Option which set where run logs are written. By default
// they go to the "logs" directory of the destination.
func WithLogDir(dir string) Option {
	return func(r *Runner) {
		r.logDir = dir
	}
}

// WithClock returns an Option which set the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithLogger returns an Option which set the logger for Runner.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// LogDir returns the directory run logs of s are written to.
func (r *Runner) LogDir(s *schedule.BackupSchedule) string {
	if r.logDir != "" {
		return r.logDir
	}
	return filepath.Join(s.DestinationPath, logDirName)
}

// Run is one execution of a backup schedule.
type Run struct {
	ID          string
	StartedAt   time.Time
	LogFilePath string

	schedule *schedule.BackupSchedule
	runner   *Runner

	mu          sync.RWMutex
	totalBytes  uint64
	bytesCopied uint64
	estimate    progress.Estimation
}

// Result is the outcome of a finished run.
type Result struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	TotalBytes  uint64
	BytesCopied uint64
	Files       uint64
	LogFilePath string
	Err         error
}

// NewRun prepares a run of s starting now.
func (r *Runner) NewRun(s *schedule.BackupSchedule) *Run {
	started := r.now()
	return &Run{
		ID:          uuid.New().String(),
		StartedAt:   started,
		LogFilePath: filepath.Join(r.LogDir(s), logFilePrefix+started.Format(logFileLayout)+logFileSuffix),
		schedule:    s.Clone(),
		runner:      r,
	}
}

// Run executes a single backup of s and returns its outcome.
func (r *Runner) Run(ctx context.Context, s *schedule.BackupSchedule, out sink.Sink) (*Result, error) {
	return r.NewRun(s).Execute(ctx, out)
}

// Progress returns the last reported estimate and byte counters.
func (run *Run) Progress() (progress.Estimation, uint64, uint64) {
	run.mu.RLock()
	defer run.mu.RUnlock()
	return run.estimate, run.bytesCopied, run.totalBytes
}

// Execute sizes the source tree, copies it and writes the run log. Progress and log
// lines are pushed to out as each file completes. The returned Result is never nil.
func (run *Run) Execute(ctx context.Context, out sink.Sink) (*Result, error) {
	if out == nil {
		out = sink.Nop
	}
	r := run.runner
	s := run.schedule
	res := &Result{RunID: run.ID, StartedAt: run.StartedAt, LogFilePath: run.LogFilePath}
	logger := r.logger.With(zap.String("run_id", run.ID))

	logFile, err := openLog(run.LogFilePath)
	if err != nil {
		res.Err = err
		res.FinishedAt = r.now()
		out.AppendLog(fmt.Sprintf("[%s] ERROR: %v", res.FinishedAt.Format(lineTimeLayout), err))
		return res, err
	}
	defer logFile.Close()

	emit := func(line string) {
		if _, err := fmt.Fprintln(logFile, line); err != nil {
			logger.Warn("failed to write run log", zap.String("path", run.LogFilePath), zap.Error(err))
		}
		out.AppendLog(line)
	}

	emit(fmt.Sprintf("[%s] Backup started: %s -> %s", run.StartedAt.Format(lineTimeLayout), s.SourcePath, s.DestinationPath))
	out.ReportProgress(0, 0)

	logDir := filepath.Dir(run.LogFilePath)
	total, err := mirror.Size(s.SourcePath, s.DestinationPath, logDir)
	if err != nil {
		return run.finish(res, emit, out, logger, err)
	}
	res.TotalBytes = total
	run.mu.Lock()
	run.totalBytes = total
	run.mu.Unlock()
	if total == 0 {
		run.setEstimate(progress.Estimate(0, 0, 0), 0)
		out.ReportProgress(100, 0)
	}

	p := progress.NewProgress(total).WithClock(r.now)
	p.OnUpdate = func(stat progress.Stat, e progress.Estimation) {
		run.setEstimate(e, stat.Bytes)
		out.ReportProgress(e.Percent, e.ETA)
	}
	p.Start()

	tracker := mirror.TrackerFuncs{
		Copied: func(rel string, n uint64) {
			p.Report(progress.Stat{Files: 1, Bytes: n})
			emit("Copying: " + filepath.Base(rel))
		},
		Failed: func(rel string, err error) {
			p.Report(progress.Stat{Errors: 1})
			emit(fmt.Sprintf("ERROR: %s: %v", rel, err))
		},
	}

	opts := append([]mirror.Option{}, r.copyOpts...)
	opts = append(opts, mirror.WithExclude(logDir), mirror.WithLogger(logger))
	copier := mirror.NewCopier(opts...)
	cres, err := copier.Copy(ctx, s.SourcePath, s.DestinationPath, tracker)
	p.Done()
	res.Files = cres.Files
	res.BytesCopied = cres.Bytes
	if err == nil {
		run.setEstimate(progress.Estimate(total, total, 0), cres.Bytes)
		out.ReportProgress(100, 0)
	}
	return run.finish(res, emit, out, logger, err)
}

func (run *Run) setEstimate(e progress.Estimation, copied uint64) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if e.Percent < run.estimate.Percent {
		e.Percent = run.estimate.Percent
	}
	run.estimate = e
	if copied > run.bytesCopied {
		run.bytesCopied = copied
	}
}

func (run *Run) finish(res *Result, emit func(string), out sink.Sink, logger *zap.Logger, err error) (*Result, error) {
	res.FinishedAt = run.runner.now()
	res.Err = err
	ts := res.FinishedAt.Format(lineTimeLayout)
	if err != nil {
		emit(fmt.Sprintf("[%s] ERROR: %v", ts, err))
		logger.Error("backup run failed", zap.Error(err))
	} else {
		emit(fmt.Sprintf("[%s] Backup finished: %d files, %s in %s",
			ts, res.Files, humanize.IBytes(res.BytesCopied), res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond)))
		logger.Info("backup run finished",
			zap.Uint64("files", res.Files),
			zap.Uint64("bytes", res.BytesCopied),
			zap.Duration("took", res.FinishedAt.Sub(res.StartedAt)))
	}
	out.AppendLog(separator)
	return res, err
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &mirror.IOError{Op: "create log dir", Path: filepath.Dir(path), Err: err}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &mirror.IOError{Op: "open log", Path: path, Err: err}
	}
	return f, nil
}
