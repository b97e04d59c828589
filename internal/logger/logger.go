// Package logger is the process-wide leveled log for agentloop. A run
// streams agent text on stdout, so log lines go to a file or nowhere and
// never mix with the event stream. The environment seeds the default
// logger; Configure layers config-file settings on top.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel maps a config or env string to a Level, case-insensitively.
func ParseLevel(s string) (Level, error) {
	for lvl, name := range levelNames {
		if strings.EqualFold(s, name) {
			return lvl, nil
		}
	}
	return LevelInfo, fmt.Errorf("invalid log level: %s", s)
}

// Logger writes leveled printf-style lines to one destination. When that
// destination is a file the logger owns it and closes it on swap or Close.
type Logger struct {
	mu    sync.Mutex
	level Level
	out   *log.Logger
	file  *os.File
}

// Default is the process logger, seeded from AGENTLOOP_LOG_LEVEL and
// AGENTLOOP_LOG_FILE.
var Default = New()

// New builds a logger from the environment. Without AGENTLOOP_LOG_FILE the
// output is discarded.
func New() *Logger {
	l := &Logger{
		level: LevelInfo,
		out:   log.New(io.Discard, "", log.LstdFlags),
	}
	if s := os.Getenv("AGENTLOOP_LOG_LEVEL"); s != "" {
		if lvl, err := ParseLevel(s); err == nil {
			l.level = lvl
		}
	}
	if path := os.Getenv("AGENTLOOP_LOG_FILE"); path != "" {
		// Best effort: a bad path leaves output discarded.
		_ = l.logToFile(path)
	}
	return l
}

// Configure applies loaded config values on top of the environment seed.
// Empty arguments leave the corresponding setting unchanged.
func (l *Logger) Configure(level, file string) error {
	if level != "" {
		lvl, err := ParseLevel(level)
		if err != nil {
			return err
		}
		l.SetLevel(lvl)
	}
	if file != "" {
		if err := l.logToFile(file); err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
	}
	return nil
}

// logToFile points output at path, releasing any previously owned file.
func (l *Logger) logToFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	l.out.SetOutput(f)
	return nil
}

// SetLevel changes the minimum severity that gets written.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput redirects log lines to w. Any owned file is released first.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	l.out.SetOutput(w)
}

// Close releases the owned log file, if any. Safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.out.SetOutput(io.Discard)
	return err
}

func (l *Logger) Debug(format string, args ...any) { l.write(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.write(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.write(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.write(LevelError, format, args...) }

func (l *Logger) write(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	l.out.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
}

// Package-level helpers on the default logger.

func Debug(format string, args ...any) { Default.Debug(format, args...) }
func Info(format string, args ...any)  { Default.Info(format, args...) }
func Warn(format string, args ...any)  { Default.Warn(format, args...) }
func Error(format string, args ...any) { Default.Error(format, args...) }

// Configure applies loaded config values to the default logger.
func Configure(level, file string) error {
	return Default.Configure(level, file)
}

// Close releases the default logger's log file.
func Close() error {
	return Default.Close()
}
