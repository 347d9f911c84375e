package sink

import (
	"time"

	"go.uber.org/zap"
)

// Logger writes sink events to a zap logger. Progress goes to debug level.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a Logger sink.
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) ReportProgress(percent float64, eta time.Duration) {
	l.logger.Debug("backup progress", zap.Float64("percent", percent), zap.Duration("eta", eta))
}

func (l *Logger) AppendLog(line string) {
	l.logger.Info(line)
}
