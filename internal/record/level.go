package record

import (
	"fmt"
	"strings"
)

// Level is a log record's severity, per spec.md §3.
type Level int

const (
	LevelUnknown Level = iota
	LevelTrace
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelFatal
)

var levelNames = map[Level]string{
	LevelTrace:   "Trace",
	LevelDebug:   "Debug",
	LevelInfo:    "Info",
	LevelWarning: "Warning",
	LevelError:   "Error",
	LevelFatal:   "Fatal",
}

// aliases maps common case-insensitive spellings onto the canonical levels.
var aliases = map[string]Level{
	"trace": LevelTrace,

	"debug": LevelDebug,
	"dbg":   LevelDebug,

	"info": LevelInfo,
	"information": LevelInfo,

	"warn":    LevelWarning,
	"warning": LevelWarning,

	"error": LevelError,
	"err":   LevelError,

	"fatal":    LevelFatal,
	"critical": LevelFatal,
	"crit":     LevelFatal,
	"panic":    LevelFatal,
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "Unknown"
}

// ParseLevel resolves a raw level string (any case, including aliases) to a
// canonical Level. An empty or unrecognized string is an error; callers in
// the Line Processor treat that as a ValidationFailed line error.
func ParseLevel(raw string) (Level, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return LevelUnknown, fmt.Errorf("level is required")
	}
	if lvl, ok := aliases[key]; ok {
		return lvl, nil
	}
	return LevelUnknown, fmt.Errorf("unrecognized level %q", raw)
}

// MarshalJSON renders the canonical level name.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON accepts any of the case-insensitive aliases.
func (l *Level) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
