package sink

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultBufferSize = 1024

type event struct {
	log     bool
	line    string
	percent float64
	eta     time.Duration
	flush   chan struct{}
}

// Dispatcher delivers events to a Sink on its own goroutine, in the order they were
// submitted. Submitting never blocks: when the buffer is full the event is dropped
// and counted. A panicking sink is recovered and logged.
type Dispatcher struct {
	target  Sink
	events  chan event
	logger  *zap.Logger
	dropped uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(d *Dispatcher)

// WithBufferSize returns a DispatcherOption which set the number of queued events.
func WithBufferSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.events = make(chan event, n)
		}
	}
}

// WithLogger returns a DispatcherOption which set the logger for Dispatcher.
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher starts a dispatcher in front of target.
func NewDispatcher(target Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		target: target,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.events == nil {
		d.events = make(chan event, defaultBufferSize)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	go d.loop()
	return d
}

var _ Sink = (*Dispatcher)(nil)

func (d *Dispatcher) ReportProgress(percent float64, eta time.Duration) {
	d.submit(event{percent: percent, eta: eta})
}

func (d *Dispatcher) AppendLog(line string) {
	d.submit(event{log: true, line: line})
}

func (d *Dispatcher) submit(e event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.events <- e:
	default:
		atomic.AddUint64(&d.dropped, 1)
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	return atomic.LoadUint64(&d.dropped)
}

// Flush waits until every event submitted before the call has been delivered, or
// until timeout expires. It reports whether the queue drained in time.
func (d *Dispatcher) Flush(timeout time.Duration) bool {
	ch := make(chan struct{})
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return true
	}
	select {
	case d.events <- event{flush: ch}:
	case <-time.After(timeout):
		d.mu.RUnlock()
		return false
	}
	d.mu.RUnlock()

	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close stops accepting events and waits for the queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for e := range d.events {
		if e.flush != nil {
			close(e.flush)
			continue
		}
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("sink panicked", zap.Any("panic", r))
		}
	}()
	if e.log {
		d.target.AppendLog(e.line)
		return
	}
	d.target.ReportProgress(e.percent, e.eta)
}
