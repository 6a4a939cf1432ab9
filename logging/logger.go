package logging

import (
	"time"

	"go.uber.org/zap"
)

// Logger wraps a *zap.SugaredLogger, additionally carrying the interval at which its owner should log
// periodic progress, so that call sites don't need a second configuration value
// threaded alongside the logger itself.
type Logger struct {
	*zap.SugaredLogger

	interval time.Duration
}

// NewLogger returns a new Logger wrapping sugared, with the given periodic logging interval.
func NewLogger(sugared *zap.SugaredLogger, interval time.Duration) *Logger {
	return &Logger{SugaredLogger: sugared, interval: interval}
}

// Interval returns the interval at which this Logger's owner should log periodic progress.
func (l *Logger) Interval() time.Duration {
	return l.interval
}
