package sink

import (
	"sync"
	"time"
)

// Ring keeps the last lines appended and the latest progress, for clients that
// attach to a running agent.
type Ring struct {
	mu      sync.RWMutex
	lines   []string
	next    int
	full    bool
	percent float64
	eta     time.Duration
}

// NewRing creates a Ring holding up to size lines.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 1
	}
	return &Ring{lines: make([]string, size)}
}

func (r *Ring) ReportProgress(percent float64, eta time.Duration) {
	r.mu.Lock()
	r.percent, r.eta = percent, eta
	r.mu.Unlock()
}

func (r *Ring) AppendLog(line string) {
	r.mu.Lock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Lines returns up to limit of the most recent lines, oldest first. limit <= 0
// returns everything kept.
func (r *Ring) Lines(limit int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	if r.full {
		out = append(out, r.lines[r.next:]...)
	}
	out = append(out, r.lines[:r.next]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Progress returns the last reported progress.
func (r *Ring) Progress() (float64, time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.percent, r.eta
}
