// Package logger holds the process-wide logger for storagebench.
//
// Standard output carries benchmark CSV, so every log line goes to stderr.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/willibrandon/mtlog"
	"github.com/willibrandon/mtlog/core"
)

// Log is the internal logger for storagebench
var Log core.Logger

func init() {
	Log = New(os.Stderr, core.InformationLevel)
}

// New builds a logger that renders events to w.
func New(w io.Writer, level core.LogEventLevel) core.Logger {
	return mtlog.New(
		mtlog.WithSink(NewWriterSink(w)),
		mtlog.WithMinimumLevel(level),
	)
}

// SetLevel replaces Log with one filtering at the named level.
func SetLevel(name string) error {
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	Log = New(os.Stderr, level)
	return nil
}

// ParseLevel maps a level name to an mtlog level.
func ParseLevel(name string) (core.LogEventLevel, error) {
	switch strings.ToLower(name) {
	case "verbose", "trace":
		return core.VerboseLevel, nil
	case "debug":
		return core.DebugLevel, nil
	case "info", "information", "":
		return core.InformationLevel, nil
	case "warn", "warning":
		return core.WarningLevel, nil
	case "error":
		return core.ErrorLevel, nil
	case "fatal":
		return core.FatalLevel, nil
	default:
		return core.InformationLevel, fmt.Errorf("unknown log level: %s", name)
	}
}

// WriterSink renders events as single text lines.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

var _ core.LogEventSink = (*WriterSink)(nil)

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Emit writes one rendered event.
func (s *WriterSink) Emit(event *core.LogEvent) {
	line := fmt.Sprintf("%s [%s] %s\n",
		event.Timestamp.Format("15:04:05.000"),
		levelTag(event.Level),
		render(event.MessageTemplate, event.Properties))

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.w, line)
}

// Close is a no-op; the underlying writer is owned by the caller.
func (s *WriterSink) Close() error {
	return nil
}

func levelTag(level core.LogEventLevel) string {
	switch level {
	case core.VerboseLevel:
		return "VRB"
	case core.DebugLevel:
		return "DBG"
	case core.InformationLevel:
		return "INF"
	case core.WarningLevel:
		return "WRN"
	case core.ErrorLevel:
		return "ERR"
	default:
		return "FTL"
	}
}

// render substitutes {name} holes with property values.
func render(template string, props map[string]any) string {
	if len(props) == 0 || !strings.Contains(template, "{") {
		return template
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(props[k]))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
