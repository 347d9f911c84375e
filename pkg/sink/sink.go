package sink

import (
	"time"
)

// Sink receives the human readable progress of backup runs. Implementations must
// be safe to call from one goroutine at a time; the Dispatcher guarantees that.
type Sink interface {
	ReportProgress(percent float64, eta time.Duration)
	AppendLog(line string)
}

// Funcs adapts plain functions to Sink. Nil fields are ignored.
type Funcs struct {
	Progress func(percent float64, eta time.Duration)
	Log      func(line string)
}

func (f Funcs) ReportProgress(percent float64, eta time.Duration) {
	if f.Progress != nil {
		f.Progress(percent, eta)
	}
}

func (f Funcs) AppendLog(line string) {
	if f.Log != nil {
		f.Log(line)
	}
}

// Nop discards everything.
var Nop Sink = Funcs{}

// Multi fans every event out to all sinks in order.
type Multi []Sink

func (m Multi) ReportProgress(percent float64, eta time.Duration) {
	for _, s := range m {
		s.ReportProgress(percent, eta)
	}
}

func (m Multi) AppendLog(line string) {
	for _, s := range m {
		s.AppendLog(line)
	}
}
