package cascade

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
)

// Logger provides structured logging for the engine's diagnostics. The core
// only emits warnings (unmatched actions, bare Run on a wired node) and
// debug-level retry traces; everything else is up to the application.
type Logger interface {
	Debug(ctx context.Context, msg string, keysAndValues ...any)
	Info(ctx context.Context, msg string, keysAndValues ...any)
	Warn(ctx context.Context, msg string, keysAndValues ...any)
	Error(ctx context.Context, msg string, keysAndValues ...any)
}

var (
	loggerMu      sync.RWMutex
	packageLogger Logger = nopLogger{}
)

// SetLogger installs the package-wide logger used for engine diagnostics.
// Passing nil restores the no-op default.
func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		l = nopLogger{}
	}
	packageLogger = l
}

func getLogger() Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return packageLogger
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}

// NewLogger returns a Logger writing to w via the standard log package.
// Debug messages are suppressed unless verbose is set.
func NewLogger(w io.Writer, verbose bool) Logger {
	return &stdLogger{l: log.New(w, "", log.LstdFlags), verbose: verbose}
}

type stdLogger struct {
	l       *log.Logger
	verbose bool
}

func (s *stdLogger) print(level, msg string, kv []any) {
	line := level + " " + msg
	for i := 0; i+1 < len(kv); i += 2 {
		line += fmt.Sprintf(" %v=%v", kv[i], kv[i+1])
	}
	s.l.Print(line)
}

func (s *stdLogger) Debug(_ context.Context, msg string, kv ...any) {
	if s.verbose {
		s.print("DEBUG", msg, kv)
	}
}

func (s *stdLogger) Info(_ context.Context, msg string, kv ...any) {
	s.print("INFO", msg, kv)
}

func (s *stdLogger) Warn(_ context.Context, msg string, kv ...any) {
	s.print("WARN", msg, kv)
}

func (s *stdLogger) Error(_ context.Context, msg string, kv ...any) {
	s.print("ERROR", msg, kv)
}
