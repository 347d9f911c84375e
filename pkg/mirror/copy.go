package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/limiter"
)

const dirMode = 0755

// ErrorPolicy decides what a copy does after a file fails.
type ErrorPolicy int

const (
	// Abort stops the copy at the first failed file.
	Abort ErrorPolicy = iota
	// Continue copies the remaining files and reports every failure at the end.
	Continue
)

// ParseErrorPolicy parses "abort" or "continue". The empty string is Abort.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return Abort, nil
	case "continue":
		return Continue, nil
	}
	return Abort, fmt.Errorf("unknown error policy %q", s)
}

func (p ErrorPolicy) String() string {
	if p == Continue {
		return "continue"
	}
	return "abort"
}

// Tracker is notified synchronously after every file, before the copier moves on.
type Tracker interface {
	FileCopied(relPath string, bytes uint64)
	FileFailed(relPath string, err error)
}

// TrackerFuncs adapts plain functions to Tracker. Nil fields are ignored.
type TrackerFuncs struct {
	Copied func(relPath string, bytes uint64)
	Failed func(relPath string, err error)
}

func (t TrackerFuncs) FileCopied(relPath string, bytes uint64) {
	if t.Copied != nil {
		t.Copied(relPath, bytes)
	}
}

func (t TrackerFuncs) FileFailed(relPath string, err error) {
	if t.Failed != nil {
		t.Failed(relPath, err)
	}
}

// Result summarizes a finished copy.
type Result struct {
	Files  uint64
	Dirs   uint64
	Bytes  uint64
	Failed []FileError

	copied []string
}

// Copier mirrors a source tree onto a destination tree. Every file is copied on
// every run and existing destination files are overwritten.
type Copier struct {
	policy  ErrorPolicy
	limiter limiter.Limiter
	verify  bool
	exclude []string
	logger  *zap.Logger
}

// Option configures a Copier.
type Option func(c *Copier)

// WithErrorPolicy returns an Option which set what happens after a failed file.
func WithErrorPolicy(p ErrorPolicy) Option {
	return func(c *Copier) {
		c.policy = p
	}
}

// WithLimiter returns an Option which throttles source reads and destination writes.
func WithLimiter(l limiter.Limiter) Option {
	return func(c *Copier) {
		c.limiter = l
	}
}

// WithVerify returns an Option which hashes source and destination after the copy.
func WithVerify(v bool) Option {
	return func(c *Copier) {
		c.verify = v
	}
}

// WithExclude returns an Option which skips the given source subdirectories.
func WithExclude(paths ...string) Option {
	return func(c *Copier) {
		for _, p := range paths {
			c.exclude = append(c.exclude, absClean(p))
		}
	}
}

// WithLogger returns an Option which set the logger for Copier.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Copier) {
		c.logger = logger
	}
}

// NewCopier creates a Copier. The default policy is Abort.
func NewCopier(opts ...Option) *Copier {
	c := &Copier{policy: Abort}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = limiter.NewStaticLimiter(0, 0)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Policy returns the configured error policy.
func (c *Copier) Policy() ErrorPolicy {
	return c.policy
}

type copyRun struct {
	*Copier
	ctx     context.Context
	tracker Tracker
	exclude []string
	res     *Result
}

// Copy walks source depth first, copying the files of each directory before
// descending into its subdirectories. A destination nested inside source is never
// copied into itself.
func (c *Copier) Copy(ctx context.Context, source, destination string, tracker Tracker) (*Result, error) {
	if tracker == nil {
		tracker = TrackerFuncs{}
	}
	if err := statDir(source); err != nil {
		return &Result{}, err
	}
	src, dst := absClean(source), absClean(destination)
	if src == dst {
		return &Result{}, &IOError{Op: "copy", Path: src, Err: errors.New("source and destination are the same directory")}
	}

	run := &copyRun{
		Copier:  c,
		ctx:     ctx,
		tracker: tracker,
		exclude: append([]string{dst}, c.exclude...),
		res:     &Result{},
	}

	if err := os.MkdirAll(dst, dirMode); err != nil {
		return run.res, &IOError{Op: "create dir", Path: dst, Err: err}
	}
	if err := run.copyDir(src, dst, ""); err != nil {
		return run.res, err
	}

	if len(run.res.Failed) > 0 {
		return run.res, &PartialCopyError{Failed: run.res.Failed}
	}
	if c.verify {
		if err := verifyCopy(src, dst, run.res.copied); err != nil {
			return run.res, err
		}
	}
	return run.res, nil
}

func (r *copyRun) copyDir(srcDir, dstDir, rel string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return r.fail(rel, &IOError{Op: "read dir", Path: srcDir, Err: err})
	}

	var dirs []os.DirEntry
	for _, de := range entries {
		k, fi := classify(srcDir, de)
		switch k {
		case kindDir:
			if excluded(filepath.Join(srcDir, de.Name()), r.exclude) {
				r.logger.Debug("skip excluded directory", zap.String("path", filepath.Join(srcDir, de.Name())))
				continue
			}
			dirs = append(dirs, de)
		case kindFile:
			if err := r.ctx.Err(); err != nil {
				return err
			}
			relPath := filepath.Join(rel, de.Name())
			n, err := r.copyFile(filepath.Join(srcDir, de.Name()), filepath.Join(dstDir, de.Name()), fi.Mode().Perm())
			if err != nil {
				if ferr := r.fail(relPath, err); ferr != nil {
					return ferr
				}
				continue
			}
			r.res.Files++
			r.res.Bytes += n
			if r.verify {
				r.res.copied = append(r.res.copied, filepath.ToSlash(relPath))
			}
			r.tracker.FileCopied(relPath, n)
		default:
			r.logger.Debug("skip entry", zap.String("path", filepath.Join(srcDir, de.Name())))
		}
	}

	for _, de := range dirs {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		sub := filepath.Join(dstDir, de.Name())
		if err := ensureDir(sub); err != nil {
			if ferr := r.fail(filepath.Join(rel, de.Name()), err); ferr != nil {
				return ferr
			}
			continue
		}
		r.res.Dirs++
		if err := r.copyDir(filepath.Join(srcDir, de.Name()), sub, filepath.Join(rel, de.Name())); err != nil {
			return err
		}
	}
	return nil
}

// fail records a failure. It returns the error to abort with, or nil to continue.
func (r *copyRun) fail(relPath string, err error) error {
	r.tracker.FileFailed(relPath, err)
	if r.policy == Abort {
		return err
	}
	r.logger.Warn("copy failed, continuing", zap.String("path", relPath), zap.Error(err))
	r.res.Failed = append(r.res.Failed, FileError{Path: relPath, Err: err})
	return nil
}

// ensureDir creates a single directory level. The parent always exists because the
// caller level created it.
func ensureDir(path string) error {
	err := os.Mkdir(path, dirMode)
	if err == nil {
		return nil
	}
	if os.IsExist(err) {
		if fi, serr := os.Stat(path); serr == nil && fi.IsDir() {
			return nil
		}
	}
	return &IOError{Op: "create dir", Path: path, Err: err}
}

func (r *copyRun) copyFile(src, dst string, perm os.FileMode) (uint64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, &IOError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if os.IsPermission(err) {
		// read-only file left by a previous run
		if cerr := os.Chmod(dst, perm|0200); cerr == nil {
			out, err = os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
		}
	}
	if err != nil {
		return 0, &IOError{Op: "create", Path: dst, Err: err}
	}

	n, err := io.Copy(r.limiter.Writer(r.ctx, out), r.limiter.Reader(r.ctx, in))
	if err != nil {
		out.Close()
		return uint64(n), &IOError{Op: "copy", Path: src, Err: err}
	}
	if err := out.Close(); err != nil {
		return uint64(n), &IOError{Op: "close", Path: dst, Err: err}
	}
	if err := os.Chmod(dst, perm); err != nil {
		return uint64(n), &IOError{Op: "chmod", Path: dst, Err: err}
	}
	return uint64(n), nil
}
