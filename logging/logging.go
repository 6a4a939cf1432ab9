package logging

import (
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// CONSOLE is the Config.Output value for logging to stderr.
	CONSOLE = "console"
	// JOURNAL is the Config.Output value for logging to systemd-journald.
	JOURNAL = "journald"
)

// Logging is the root of a tree of named child Loggers sharing one output sink and periodic-logging
// interval, as configured by a Config. Call GetChildLogger to obtain the Logger for a given subsystem.
type Logging struct {
	name       string
	newCore    func(name string, level zapcore.LevelEnabler) zapcore.Core
	defaultLvl zapcore.Level
	interval   time.Duration
	options    Options

	mu       sync.Mutex
	children map[string]*Logger
}

// NewLoggingFromConfig creates a new Logging whose root identifier is name, configured per c.
func NewLoggingFromConfig(name string, c Config) (*Logging, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var newCore func(name string, level zapcore.LevelEnabler) zapcore.Core
	switch c.Output {
	case JOURNAL:
		newCore = func(identifier string, level zapcore.LevelEnabler) zapcore.Core {
			return NewJournaldCore(identifier, level)
		}
	case CONSOLE:
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder := zapcore.NewConsoleEncoder(encoderConfig)
		sink := zapcore.Lock(zapcore.AddSync(os.Stderr))

		newCore = func(_ string, level zapcore.LevelEnabler) zapcore.Core {
			return zapcore.NewCore(encoder, sink, level)
		}
	default:
		return nil, errors.Errorf("unknown logging output %q", c.Output)
	}

	return &Logging{
		name:       name,
		newCore:    newCore,
		defaultLvl: c.Level,
		interval:   c.Interval,
		options:    c.Options,
		children:   make(map[string]*Logger),
	}, nil
}

// GetChildLogger returns the named child Logger, creating it on first use. Subsequent calls with the same
// name return the same Logger. If Config.Options names an explicit level for name, that level is used;
// otherwise the root Config.Level applies.
func (l *Logging) GetChildLogger(name string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	if logger, ok := l.children[name]; ok {
		return logger
	}

	level := l.defaultLvl
	if lvl, ok := l.options[name]; ok {
		level = lvl
	}

	core := l.newCore(l.name+"/"+name, level)
	logger := NewLogger(zap.New(core).Named(name).Sugar(), l.interval)
	l.children[name] = logger

	return logger
}
