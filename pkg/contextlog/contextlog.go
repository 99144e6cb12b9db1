// Package contextlog provides hierarchical, buffered logging scopes.
//
// A Scope buffers every record logged through it and forwards the rendered
// record to each of its ancestors. A worker keeps one root scope and narrows
// it once per task, so a task's Contents holds only that task's messages while
// the root sees everything.
package contextlog

import (
	"fmt"
	"log/slog"
	"strings"
)

// ContextLog is the buffered output of a scope.
type ContextLog struct {
	// Out holds the rendered log records and any raw text written to the scope.
	Out string
	// Profiles holds free form timing annotations, one per entry.
	Profiles []string
}

// String returns the rendered log records.
func (l ContextLog) String() string {
	return l.Out
}

// Empty reports whether neither records nor profiles were captured.
func (l ContextLog) Empty() bool {
	return l.Out == "" && len(l.Profiles) == 0
}

// Granularity selects the lowest severity a scope records.
type Granularity int

const (
	// Info records info, warning and error messages.
	Info Granularity = iota
	// Error records error messages only.
	Error
	// Debug records everything.
	Debug
)

// Level returns the slog level that corresponds to g.
func (g Granularity) Level() slog.Level {
	switch g {
	case Debug:
		return slog.LevelDebug
	case Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (g Granularity) String() string {
	switch g {
	case Debug:
		return "debug"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// ParseGranularity converts a level name such as "debug" or "INFO" into a Granularity.
// Warning maps to Info because warnings are always recorded at Info granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info", "warn", "warning":
		return Info, nil
	case "debug":
		return Debug, nil
	case "error":
		return Error, nil
	default:
		return Info, fmt.Errorf("unknown log level %q (must be debug, info or error)", s)
	}
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARNING"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
