package telemetry

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

// Level is a log severity, ordered from most to least verbose.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the structured logging collaborator consumed throughout the
// agent. Call sites pass an explicit fields map rather than relying on
// reflection-based enrichment (spec.md §9).
type Logger interface {
	Log(level Level, msg string, fields map[string]any)
	Trace(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// StdLogger is the default Logger, writing leveled, field-annotated lines
// to an io.Writer. It generalizes the teacher's package-level leveled
// loggers (logger.Info, logger.Trace, ...) into an explicit value every
// component receives at construction time instead of a global.
type StdLogger struct {
	mu       sync.Mutex
	out      *log.Logger
	minLevel Level
}

// NewStdLogger creates a StdLogger writing to w, filtering out messages
// below minLevel.
func NewStdLogger(w io.Writer, minLevel Level) *StdLogger {
	return &StdLogger{
		out:      log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		minLevel: minLevel,
	}
}

// NewDefaultLogger returns a StdLogger writing INFO and above to stderr.
func NewDefaultLogger() *StdLogger {
	return NewStdLogger(os.Stderr, LevelInfo)
}

// Log implements Logger.
func (l *StdLogger) Log(level Level, msg string, fields map[string]any) {
	if level < l.minLevel {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Print(formatLine(level, msg, fields))
}

func (l *StdLogger) Trace(msg string, fields map[string]any) { l.Log(LevelTrace, msg, fields) }
func (l *StdLogger) Debug(msg string, fields map[string]any) { l.Log(LevelDebug, msg, fields) }
func (l *StdLogger) Info(msg string, fields map[string]any)  { l.Log(LevelInfo, msg, fields) }
func (l *StdLogger) Warn(msg string, fields map[string]any)  { l.Log(LevelWarn, msg, fields) }
func (l *StdLogger) Error(msg string, fields map[string]any) { l.Log(LevelError, msg, fields) }

func formatLine(level Level, msg string, fields map[string]any) string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(level.String())
	b.WriteString("] ")
	b.WriteString(msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	return b.String()
}

// Noop is a Logger that discards everything; useful in unit tests that do
// not care about log output.
type Noop struct{}

func (Noop) Log(Level, string, map[string]any) {}
func (Noop) Trace(string, map[string]any)      {}
func (Noop) Debug(string, map[string]any)      {}
func (Noop) Info(string, map[string]any)       {}
func (Noop) Warn(string, map[string]any)       {}
func (Noop) Error(string, map[string]any)      {}

var _ Logger = (*StdLogger)(nil)
var _ Logger = Noop{}
