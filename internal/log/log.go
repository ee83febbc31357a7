// Package log is the shim's structured logger. Entries carry a level, a
// subsystem category, and key=value fields; each entry also fans out as a
// typed pubsub event so the harness transcript can render it live.
//
// Two shim-specific behaviors live here rather than at call sites:
// per-category thresholds (the harness mutes the embedded mock unless
// --debug is set) and frame-noise demotion (steady-state status_snapshot
// and pong frames log at debug so a healthy session does not flood the
// output).
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/telemy/aegis-shim/internal/pubsub"
	"github.com/telemy/aegis-shim/internal/wire"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
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

// Category groups related log messages.
type Category string

const (
	CatIPC     Category = "ipc"     // Session supervisor and channel I/O
	CatCodec   Category = "codec"   // MessagePack encode/decode
	CatQueue   Category = "queue"   // Outbound queue enqueue/drain
	CatDock    Category = "dock"    // Dock action intake and results
	CatScene   Category = "scene"   // Scene pump and host bridge
	CatTheme   Category = "theme"   // Theme derivation and polling
	CatReplay  Category = "replay"  // UI replay cache
	CatConfig  Category = "config"  // Configuration loading/saving
	CatHarness Category = "harness" // Interactive CLI harness
	CatMock    Category = "mock"    // Mock core peer
)

// Entry is one rendered log line, delivered to sinks and subscribers.
type Entry struct {
	Time     time.Time
	Level    Level
	Category Category
	Message  string
	Fields   string
}

// String renders the entry in the on-disk line format.
func (e Entry) String() string {
	line := fmt.Sprintf("%s [%s] [%s] %s",
		e.Time.Format("2006-01-02T15:04:05"), e.Level, e.Category, e.Message)
	if e.Fields != "" {
		line += " " + e.Fields
	}
	return line
}

// Logger routes entries to a writer and a typed broker, gated by a global
// minimum level and optional per-category overrides.
type Logger struct {
	mu          sync.Mutex
	writer      io.Writer
	file        *os.File
	enabled     bool
	minLevel    Level
	categoryMin map[Category]Level
	broker      *pubsub.Broker[Entry]
}

var (
	globalMu      sync.Mutex
	defaultLogger *Logger
)

func newLogger(w io.Writer, f *os.File) *Logger {
	return &Logger{
		writer:      w,
		file:        f,
		enabled:     true,
		minLevel:    LevelDebug,
		categoryMin: make(map[Category]Level),
		broker:      pubsub.NewBroker[Entry](),
	}
}

func setDefault(l *Logger) {
	globalMu.Lock()
	defaultLogger = l
	globalMu.Unlock()
}

func current() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	return defaultLogger
}

// Init initializes the global logger appending to the given path.
// Returns a cleanup function that closes the log file.
func Init(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) //nolint:gosec // G304: path is user-controlled debug log path
	if err != nil {
		return nil, err
	}
	l := newLogger(f, f)
	setDefault(l)
	return func() { _ = f.Close() }, nil
}

// InitWithTeaLog uses tea.LogToFile for initialization, so harness debug
// output lands in the same file Bubble Tea uses.
func InitWithTeaLog(path string, prefix string) (func(), error) {
	f, err := tea.LogToFile(path, prefix)
	if err != nil {
		return nil, err
	}
	l := newLogger(f, f)
	setDefault(l)
	return func() { _ = f.Close() }, nil
}

// InitWithWriter initializes the global logger against an arbitrary
// writer. Used by the plugin wrapper (host log sink) and by tests.
func InitWithWriter(w io.Writer) {
	setDefault(newLogger(w, nil))
}

// SetEnabled toggles logging on/off.
func SetEnabled(enabled bool) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.enabled = enabled
		l.mu.Unlock()
	}
}

// SetMinLevel sets the global minimum log level.
func SetMinLevel(level Level) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.minLevel = level
		l.mu.Unlock()
	}
}

// SetCategoryMinLevel raises (or lowers) the threshold for one category
// without touching the rest; the stricter of it and the global minimum
// wins. The harness uses this to mute the embedded mock peer.
func SetCategoryMinLevel(cat Category, level Level) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.categoryMin[cat] = level
		l.mu.Unlock()
	}
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	write(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	write(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	write(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	write(LevelError, cat, msg, fields...)
}

// ErrorErr logs an error with the error value.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	write(LevelError, cat, msg, fields...)
}

// Frame logs one received frame, demoted to debug for the envelope types
// a healthy session produces every second (pong, status_snapshot).
func Frame(envelopeType string, fields ...any) {
	level := LevelInfo
	if envelopeType == wire.TypePong || envelopeType == wire.TypeStatusSnapshot {
		level = LevelDebug
	}
	write(level, CatIPC, "received frame", append([]any{"type", envelopeType}, fields...)...)
}

func write(level Level, cat Category, msg string, fields ...any) {
	l := current()
	if l == nil {
		return
	}

	l.mu.Lock()
	if !l.enabled || level < l.minLevel {
		l.mu.Unlock()
		return
	}
	if catMin, ok := l.categoryMin[cat]; ok && level < catMin {
		l.mu.Unlock()
		return
	}

	entry := Entry{
		Time:     time.Now(),
		Level:    level,
		Category: cat,
		Message:  msg,
		Fields:   formatFields(fields),
	}
	if l.writer != nil {
		_, _ = io.WriteString(l.writer, entry.String()+"\n")
	}
	broker := l.broker
	l.mu.Unlock()

	if broker != nil {
		broker.Publish(pubsub.EventLogEntry, entry)
	}
}

// formatFields renders key=value pairs; values containing spaces are
// quoted so the line stays splittable. An odd trailing key is kept
// visible rather than silently dropped.
func formatFields(fields []any) string {
	if len(fields) == 0 {
		return ""
	}
	var sb strings.Builder
	for i := 0; i+1 < len(fields); i += 2 {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(fmt.Sprintf("%v=%s", fields[i], fieldValue(fields[i+1])))
	}
	if len(fields)%2 != 0 {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(fmt.Sprintf("%v=<missing>", fields[len(fields)-1]))
	}
	return sb.String()
}

func fieldValue(v any) string {
	s := fmt.Sprintf("%v", v)
	if strings.ContainsAny(s, " \t") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// LogEvent is a pubsub event containing a log entry.
type LogEvent = pubsub.Event[Entry]

// NewListener returns a channel of log entries. The subscription is
// released when the context is cancelled.
func NewListener(ctx context.Context) <-chan LogEvent {
	l := current()
	if l == nil || l.broker == nil {
		return nil
	}
	return l.broker.Subscribe(ctx)
}
