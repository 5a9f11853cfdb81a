package testutil

import (
	"fmt"
	"strings"
	"sync"

	"pbk-go/internal/pbk"
)

// LogRecord is one message captured by RecordingLogger.
type LogRecord struct {
	Level string
	Msg   string
	Args  []any
}

// RecordingLogger keeps every message in memory. Safe for concurrent use.
type RecordingLogger struct {
	mu      sync.Mutex
	Records []LogRecord
}

var _ pbk.Logger = (*RecordingLogger)(nil)

func NewRecordingLogger() *RecordingLogger { return &RecordingLogger{} }

func (l *RecordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Records = append(l.Records, LogRecord{Level: level, Msg: msg, Args: args})
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args) }

// Has reports whether a message at level containing substr was logged.
func (l *RecordingLogger) Has(level, substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.Records {
		if r.Level == level && strings.Contains(r.Msg, substr) {
			return true
		}
	}
	return false
}

// String renders the captured messages, one per line.
func (l *RecordingLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	for _, r := range l.Records {
		fmt.Fprintf(&b, "%s %s %v\n", r.Level, r.Msg, r.Args)
	}
	return b.String()
}
