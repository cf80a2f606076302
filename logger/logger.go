// Package logger provides colored console and JSON logging for proctor.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

// Key constants for structured log fields.
const (
	KeyComponent = "component"
	KeyJob       = "job"
	KeyRunID     = "run_id"
	KeyPID       = "pid"
	KeyError     = "error"
)

// Level represents the logging level.
type Level int

const (
	// LevelDebug includes all messages.
	LevelDebug Level = iota
	// LevelInfo includes info, warn, and error messages (default).
	LevelInfo
	// LevelWarn includes warn and error messages.
	LevelWarn
	// LevelError includes only error messages.
	LevelError
)

// Format selects the output encoding.
type Format int

const (
	// FormatText writes colored, human-readable lines.
	FormatText Format = iota
	// FormatJSON writes one JSON object per record.
	FormatJSON
)

// ParseLevel converts a level name from flags or config.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// ParseFormat converts a format name from flags or config.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "console":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format %q", s)
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConsoleHandler is a custom slog.Handler that formats logs with colors.
type ConsoleHandler struct {
	mu     *sync.Mutex
	output io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

// NewConsoleHandler creates a ConsoleHandler writing to w.
func NewConsoleHandler(w io.Writer, level slog.Level) *ConsoleHandler {
	return &ConsoleHandler{mu: &sync.Mutex{}, output: w, level: level}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var filename string
	if r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		filename = filepath.Base(f.File)
	}

	var levelColor, levelLabel string
	switch r.Level {
	case slog.LevelDebug:
		levelColor = colorGray
		levelLabel = "DEBUG"
	case slog.LevelInfo:
		levelColor = colorBlue
		levelLabel = "INFO"
	case slog.LevelWarn:
		levelColor = colorYellow
		levelLabel = "WARN"
	case slog.LevelError:
		levelColor = colorRed
		levelLabel = "ERROR"
	default:
		levelColor = colorReset
		levelLabel = "UNKNOWN"
	}

	var sb strings.Builder
	sb.WriteString(r.Message)

	prefix := strings.Join(h.groups, ".")
	writeAttr := func(a slog.Attr) {
		if a.Equal(slog.Attr{}) {
			return
		}
		key := a.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		sb.WriteString(" ")
		fmt.Fprintf(&sb, "%s=%v", key, a.Value.Resolve().Any())
	}

	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()

	// Format: [LEVEL] filename: message
	var err error
	if filename != "" {
		_, err = fmt.Fprintf(h.output, "%s[%s]%s %s: %s\n",
			levelColor, levelLabel, colorReset, filename, sb.String())
	} else {
		_, err = fmt.Fprintf(h.output, "%s[%s]%s %s\n",
			levelColor, levelLabel, colorReset, sb.String())
	}
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &ConsoleHandler{
		mu:     h.mu,
		output: h.output,
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &ConsoleHandler{
		mu:     h.mu,
		output: h.output,
		level:  h.level,
		attrs:  h.attrs,
		groups: groups,
	}
}

// switchableHandler lets package-level loggers created before the CLI
// parsed its flags pick up the configured handler afterwards.
type switchableHandler struct {
	current *atomic.Pointer[handlerBox]
	attrs   []slog.Attr
	groups  []string
}

// handlerBox gives every stored handler the same concrete type.
type handlerBox struct {
	slog.Handler
}

func (h *switchableHandler) materialize() slog.Handler {
	handler := h.current.Load().Handler
	for _, group := range h.groups {
		handler = handler.WithGroup(group)
	}
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	return handler
}

func (h *switchableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.current.Load().Enabled(ctx, level)
}

func (h *switchableHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.materialize().Handle(ctx, r)
}

func (h *switchableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &switchableHandler{current: h.current, attrs: merged, groups: h.groups}
}

func (h *switchableHandler) WithGroup(name string) slog.Handler {
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &switchableHandler{current: h.current, attrs: h.attrs, groups: groups}
}

var (
	mu            sync.Mutex
	currentLevel  = LevelInfo
	currentFormat = FormatText
	currentOutput io.Writer = os.Stderr

	root          = &switchableHandler{current: &atomic.Pointer[handlerBox]{}}
	defaultLogger = slog.New(root)
)

func init() {
	rebuildLogger()
}

// rebuildLogger swaps the handler behind every logger handed out so far.
// Callers hold mu, except init.
func rebuildLogger() {
	var handler slog.Handler
	switch currentFormat {
	case FormatJSON:
		handler = slog.NewJSONHandler(currentOutput, &slog.HandlerOptions{Level: currentLevel.slogLevel()})
	default:
		handler = NewConsoleHandler(currentOutput, currentLevel.slogLevel())
	}
	root.current.Store(&handlerBox{Handler: handler})
}

// SetLevel configures the global logger with the specified level.
func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
	rebuildLogger()
}

// SetFormat switches between console and JSON output.
func SetFormat(format Format) {
	mu.Lock()
	defer mu.Unlock()
	currentFormat = format
	rebuildLogger()
}

// SetOutput changes the output destination for logs.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	currentOutput = w
	rebuildLogger()
}

// log is a helper that logs with proper caller information.
func log(level slog.Level, msg string, args ...any) {
	if !defaultLogger.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip [Callers, log, Debug/Info/Warn/Error]
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = defaultLogger.Handler().Handle(context.Background(), r)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	log(slog.LevelDebug, msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	log(slog.LevelInfo, msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	log(slog.LevelWarn, msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	log(slog.LevelError, msg, args...)
}

// L returns a logger tagged with the given component name. It keeps
// following SetLevel, SetFormat and SetOutput.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// With returns a new logger with additional attributes.
func With(args ...any) *slog.Logger {
	return defaultLogger.With(args...)
}

// GetLogger returns the underlying slog.Logger for advanced usage.
func GetLogger() *slog.Logger {
	return defaultLogger
}
