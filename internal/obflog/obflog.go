// Package obflog is a tiny leveled logger for the pipeline's debug tracing
// and cosmetic warnings (spec §7: Unsupported-IR skips log at debug level,
// cosmetic issues log as warnings and processing continues). Styled after
// the teacher's colored CLI diagnostics rather than a structured-logging
// framework, since the pipeline is a single-threaded batch tool, not a
// long-running service with log aggregation downstream.
package obflog

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Level orders the logger's verbosity, lowest-to-highest severity.
type Level int

const (
	LevelDebug Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Logger writes leveled, colored lines to Out, suppressing anything below
// Threshold.
type Logger struct {
	Out       io.Writer
	Threshold Level
}

// New returns a Logger writing to os.Stderr at the given threshold.
func New(threshold Level) *Logger {
	return &Logger{Out: os.Stderr, Threshold: threshold}
}

func (l *Logger) log(level Level, tag func(format string, a ...interface{}) string, format string, args ...interface{}) {
	if level < l.Threshold {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(l.Out, tag("[%s] %s", level, msg))
}

// Debugf traces a pass's step-by-step decisions: which blocks it skipped,
// which candidates it chose. Never shown unless Threshold is LevelDebug.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(LevelDebug, color.New(color.FgCyan).SprintfFunc(), format, args...)
}

// Warnf reports a cosmetic issue (spec §7): processing continues.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(LevelWarn, color.New(color.FgYellow).SprintfFunc(), format, args...)
}

// Errorf writes an error-level line, shown at every Threshold.
// Unsupported-IR skips are logged with Debugf, not here.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, color.New(color.FgRed).SprintfFunc(), format, args...)
}
