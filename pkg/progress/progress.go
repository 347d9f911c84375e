package progress

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Progress accumulates copy statistics against a known byte total and reports an
// Estimate after every Report call.
type Progress struct {
	OnStart   func(total uint64)
	OnUpdate  ProgressFunc
	OnDone    ProgressFunc
	funcMutex sync.Mutex

	total        uint64
	currentStat  Stat
	currentMutex sync.Mutex
	startTime    time.Time
	now          func() time.Time

	running bool
}

// Stat is a set of counters for one run.
type Stat struct {
	Files  uint64
	Dirs   uint64
	Bytes  uint64
	Errors uint64
}

// ProgressFunc receives the accumulated statistics and the matching estimate.
type ProgressFunc func(s Stat, e Estimation)

// NewProgress creates a Progress for a run of total bytes.
func NewProgress(total uint64) *Progress {
	return &Progress{total: total, now: time.Now}
}

// WithClock replaces the time source, used by tests.
func (p *Progress) WithClock(now func() time.Time) *Progress {
	p.now = now
	return p
}

// Start resets the counters and starts the stopwatch.
func (p *Progress) Start() {
	if p == nil || p.running {
		return
	}

	p.running = true
	p.Reset()
	p.startTime = p.now()

	if p.OnStart != nil {
		p.funcMutex.Lock()
		p.OnStart(p.total)
		p.funcMutex.Unlock()
	}
}

// Reset resets all statistic counters to zero.
func (p *Progress) Reset() {
	if p == nil {
		return
	}

	if !p.running {
		panic("resetting a non-running Progress")
	}
	p.currentMutex.Lock()
	p.currentStat = Stat{}
	p.currentMutex.Unlock()
}

// Report adds the statistics from s to the current state and reports the
// accumulated statistics synchronously.
func (p *Progress) Report(s Stat) {
	if p == nil {
		return
	}

	if !p.running {
		panic("reporting in a non-running Progress")
	}
	p.currentMutex.Lock()
	p.currentStat.Add(s)
	current := p.currentStat
	p.currentMutex.Unlock()

	if p.OnUpdate == nil {
		return
	}
	e := Estimate(p.total, current.Bytes, p.now().Sub(p.startTime))
	p.funcMutex.Lock()
	p.OnUpdate(current, e)
	p.funcMutex.Unlock()
}

// Current returns the accumulated statistics and the matching estimate.
func (p *Progress) Current() (Stat, Estimation) {
	p.currentMutex.Lock()
	cur := p.currentStat
	p.currentMutex.Unlock()
	return cur, Estimate(p.total, cur.Bytes, p.now().Sub(p.startTime))
}

// Total returns the byte total the run was sized at.
func (p *Progress) Total() uint64 {
	return p.total
}

func (p *Progress) Done() {
	if p == nil || !p.running {
		return
	}

	p.running = false
	p.currentMutex.Lock()
	cur := p.currentStat
	p.currentMutex.Unlock()
	if p.OnDone != nil {
		e := Estimate(p.total, cur.Bytes, p.now().Sub(p.startTime))
		p.funcMutex.Lock()
		p.OnDone(cur, e)
		p.funcMutex.Unlock()
	}
}

// Add accumulates other into s.
func (s *Stat) Add(other Stat) {
	s.Bytes += other.Bytes
	s.Dirs += other.Dirs
	s.Files += other.Files
	s.Errors += other.Errors
}

func (s Stat) String() string {
	return fmt.Sprintf("Stat(%d files, %d dirs, %d error, %s)",
		s.Files, s.Dirs, s.Errors, humanize.IBytes(s.Bytes))
}

// Estimation is the percent complete and remaining time of a run.
type Estimation struct {
	Percent float64
	ETA     time.Duration
	Elapsed time.Duration
}

func (e Estimation) String() string {
	return fmt.Sprintf("%.2f%% done, ETA %s", e.Percent, FormatETA(e.ETA))
}

// Estimate computes the progress of copied out of total bytes after elapsed time.
// An empty run is complete. The ETA is zero whenever the copy rate is not yet
// known. Neither value is ever NaN, infinite or out of range.
func Estimate(total, copied uint64, elapsed time.Duration) Estimation {
	e := Estimation{Elapsed: elapsed}
	if total == 0 {
		e.Percent = 100
		return e
	}
	if copied >= total {
		e.Percent = 100
		return e
	}

	e.Percent = clampPercent(float64(copied) / float64(total) * 100)
	if copied == 0 || elapsed <= 0 {
		return e
	}

	rate := float64(copied) / elapsed.Seconds()
	secs := float64(total-copied) / rate
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return e
	}
	if secs >= float64(math.MaxInt64)/float64(time.Second) {
		e.ETA = time.Duration(math.MaxInt64)
		return e
	}
	e.ETA = time.Duration(secs * float64(time.Second))
	return e
}

func clampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// FormatETA renders d as hh:mm:ss.
func FormatETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%02d:%02d:%02d", h, m, d/time.Second)
}
