package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/backup"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/schedule"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/sink"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/store"
)

var (
	ErrBackupInProgress = errors.New("a backup is already in progress")
	ErrNotScheduled     = errors.New("no backup is scheduled")
	ErrClosed           = errors.New("scheduler is closed")
)

const defaultPersistTimeout = 10 * time.Second

// State of the scheduler.
type State string

const (
	Idle    State = "idle"
	Armed   State = "armed"
	Running State = "running"
	Stopped State = "stopped"
)

// LastRun summarizes the most recently finished run.
type LastRun struct {
	RunID       string    `json:"run_id" yaml:"run_id"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time `json:"finished_at" yaml:"finished_at"`
	Files       uint64    `json:"files" yaml:"files"`
	BytesCopied uint64    `json:"bytes_copied" yaml:"bytes_copied"`
	LogFilePath string    `json:"log_file_path" yaml:"log_file_path"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Status is a snapshot of the scheduler.
type Status struct {
	State       State                    `json:"state" yaml:"state"`
	Schedule    *schedule.BackupSchedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	NextRunAt   *time.Time               `json:"next_run_at,omitempty" yaml:"next_run_at,omitempty"`
	RunID       string                   `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Percent     float64                  `json:"percent" yaml:"percent"`
	ETA         time.Duration            `json:"eta" yaml:"eta"`
	BytesCopied uint64                   `json:"bytes_copied" yaml:"bytes_copied"`
	TotalBytes  uint64                   `json:"total_bytes" yaml:"total_bytes"`
	LastRun     *LastRun                 `json:"last_run,omitempty" yaml:"last_run,omitempty"`
}

// Scheduler runs the persisted backup schedule. At most one timer is armed and at
// most one run is in flight at any time.
type Scheduler struct {
	mu       sync.Mutex
	current  *schedule.BackupSchedule
	timer    Timer
	seq      uint64
	run      *backup.Run
	stopped  bool
	closed   bool
	lastRun  *LastRun
	finished []func(*backup.Result)

	store          store.Store
	runner         *backup.Runner
	dispatcher     *sink.Dispatcher
	clock          Clock
	logger         *zap.Logger
	persistTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(s *Scheduler)

// WithClock returns an Option which set the clock used to arm timers.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithDispatcher returns an Option which set where progress of all runs is sent.
// The scheduler closes it on Close.
func WithDispatcher(d *sink.Dispatcher) Option {
	return func(s *Scheduler) {
		s.dispatcher = d
	}
}

// WithLogger returns an Option which set the logger for Scheduler.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithPersistTimeout returns an Option which bounds how long saving the next run
// time is retried after a run.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.persistTimeout = d
	}
}

// OnRunFinished returns an Option which registers f to be called after every run,
// once the next run has been scheduled.
func OnRunFinished(f func(*backup.Result)) Option {
	return func(s *Scheduler) {
		s.finished = append(s.finished, f)
	}
}

// New creates a Scheduler. It does nothing until Resume or StartBackup is called.
func New(st store.Store, runner *backup.Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:          st,
		runner:         runner,
		clock:          realClock{},
		persistTimeout: defaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.dispatcher == nil {
		s.dispatcher = sink.NewDispatcher(sink.Nop, sink.WithLogger(s.logger))
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Resume loads the persisted schedule and arms it. A schedule whose next run time
// has already passed runs immediately. It fails with ErrBackupInProgress while a
// run is in flight.
func (s *Scheduler) Resume() error {
	rec, err := s.store.Load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.run != nil {
		return ErrBackupInProgress
	}
	if rec == nil {
		s.logger.Info("no backup schedule to resume")
		return nil
	}

	s.current = rec
	s.stopped = false
	if !rec.NextRunAt.After(s.clock.Now()) {
		s.logger.Info("missed scheduled backup, running now", zap.Time("next_run_at", rec.NextRunAt))
		s.startLocked()
		return nil
	}
	s.logger.Info("resumed backup schedule", zap.Stringer("schedule", rec), zap.Time("next_run_at", rec.NextRunAt))
	s.armLocked(rec.NextRunAt)
	return nil
}

// StartBackup validates and persists a new schedule and arms its first run one
// interval from now. While a run is in flight the schedule takes effect when that
// run completes.
func (s *Scheduler) StartBackup(source, destination string, frequency int, unit schedule.TimeUnit) (*schedule.BackupSchedule, error) {
	rec, err := schedule.New(source, destination, frequency, unit)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	rec.Advance(s.clock.Now())
	if err := s.store.Save(rec); err != nil {
		return nil, err
	}

	s.current = rec
	s.stopped = false
	if s.run != nil {
		s.logger.Info("backup in progress, new schedule applies after it", zap.Stringer("schedule", rec))
		return rec.Clone(), nil
	}
	s.armLocked(rec.NextRunAt)
	s.logger.Info("backup scheduled", zap.Stringer("schedule", rec), zap.Time("next_run_at", rec.NextRunAt))
	return rec.Clone(), nil
}

// StopBackup cancels future runs and clears the persisted schedule. A run in flight
// is left to complete but is not followed by another.
func (s *Scheduler) StopBackup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disarmLocked()
	s.current = nil
	s.stopped = true
	if err := s.store.Clear(); err != nil {
		return err
	}
	s.logger.Info("backup schedule stopped")
	return nil
}

// RunNow fires the armed schedule immediately and returns the new run's ID.
func (s *Scheduler) RunNow() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return "", ErrClosed
	case s.run != nil:
		return "", ErrBackupInProgress
	case s.current == nil || s.timer == nil:
		return "", ErrNotScheduled
	}
	s.disarmLocked()
	return s.startLocked(), nil
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.stateLocked()}
	if s.current != nil {
		st.Schedule = s.current.Clone()
		if s.run == nil {
			next := s.current.NextRunAt
			st.NextRunAt = &next
		}
	}
	if s.run != nil {
		e, copied, total := s.run.Progress()
		st.RunID = s.run.ID
		st.Percent = e.Percent
		st.ETA = e.ETA
		st.BytesCopied = copied
		st.TotalBytes = total
	}
	if s.lastRun != nil {
		lr := *s.lastRun
		st.LastRun = &lr
	}
	return st
}

// Flush waits up to timeout for queued progress events to be delivered.
func (s *Scheduler) Flush(timeout time.Duration) bool {
	return s.dispatcher.Flush(timeout)
}

// Close disarms the timer, interrupts a run in flight between two files and waits
// for it. The persisted schedule is left as is.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.disarmLocked()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.dispatcher.Close()
}

func (s *Scheduler) stateLocked() State {
	switch {
	case s.run != nil:
		return Running
	case s.timer != nil:
		return Armed
	case s.stopped:
		return Stopped
	default:
		return Idle
	}
}

func (s *Scheduler) armLocked(at time.Time) {
	s.disarmLocked()
	d := at.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	seq := s.seq
	s.timer = s.clock.AfterFunc(d, func() { s.fire(seq) })
}

func (s *Scheduler) disarmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.seq++
}

func (s *Scheduler) fire(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq || s.timer == nil || s.closed {
		return
	}
	s.timer = nil
	s.seq++
	s.startLocked()
}

// startLocked begins a run of the current schedule on its own goroutine.
func (s *Scheduler) startLocked() string {
	run := s.runner.NewRun(s.current)
	s.run = run
	s.wg.Add(1)
	s.logger.Info("backup started", zap.String("run_id", run.ID), zap.Stringer("schedule", s.current))
	go s.execute(run)
	return run.ID
}

func (s *Scheduler) execute(run *backup.Run) {
	defer s.wg.Done()

	res, err := run.Execute(s.ctx, s.dispatcher)
	if err != nil {
		s.logger.Error("backup run failed", zap.String("run_id", run.ID), zap.Error(err))
	}

	s.mu.Lock()
	s.run = nil
	s.lastRun = summarize(res)
	var next *schedule.BackupSchedule
	var seq uint64
	if !s.closed && !s.stopped && s.current != nil {
		next = s.current.Clone()
		next.Advance(s.clock.Now())
		s.current = next
		s.armLocked(next.NextRunAt)
		seq = s.seq
		s.logger.Info("next backup scheduled", zap.Time("next_run_at", next.NextRunAt))
	}
	finished := s.finished
	s.mu.Unlock()

	if next != nil {
		if err := s.persist(next, seq); err != nil {
			s.logger.Error("failed to save next run time", zap.Error(err))
		}
	}
	for _, f := range finished {
		f(res)
	}
}

// persist saves rec, retrying with exponential backoff. The lock is held for each
// attempt only, and the save is abandoned once the timer armed with seq has been
// replaced by a start, a stop or a later run.
func (s *Scheduler) persist(rec *schedule.BackupSchedule, seq uint64) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = s.persistTimeout
	bo.Reset()

	for {
		s.mu.Lock()
		if s.closed || s.seq != seq {
			s.mu.Unlock()
			return nil
		}
		err := s.store.Save(rec)
		s.mu.Unlock()
		if err == nil {
			return nil
		}

		d := bo.NextBackOff()
		if d == backoff.Stop {
			return err
		}
		s.logger.Warn("save failed, retrying", zap.Duration("in", d), zap.Error(err))
		select {
		case <-time.After(d):
		case <-s.ctx.Done():
			return err
		}
	}
}

func summarize(res *backup.Result) *LastRun {
	lr := &LastRun{
		RunID:       res.RunID,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
		Files:       res.Files,
		BytesCopied: res.BytesCopied,
		LogFilePath: res.LogFilePath,
	}
	if res.Err != nil {
		lr.Error = res.Err.Error()
	}
	return lr
}
