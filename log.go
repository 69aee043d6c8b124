package sloggate

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// Root carries the root logger state for a gate Handler. It is constructed
// once at logging setup and passed explicitly to the components that need
// named loggers; there is no package-global instance.
type Root struct {
	h      *Handler
	logger *slog.Logger
}

// NewRoot returns the root logger state for h.
func NewRoot(h *Handler) *Root {
	return &Root{h: h, logger: slog.New(h)}
}

// Logger returns the root *slog.Logger.
func (r *Root) Logger() *slog.Logger {
	return r.logger
}

// Handler returns the gate handler the root was built on.
func (r *Root) Handler() *Handler {
	return r.h
}

// Named returns the logging capability for a dotted source name below the
// root, e.g. Named("app.db").
func (r *Root) Named(name string) *Log {
	return &Log{name: name, root: r}
}

// Log is a small logging capability for composition into types that want a
// named logger: it lazily binds its *slog.Logger on first use and stays
// silent until enabled.
type Log struct {
	name string
	root *Root

	mu      sync.Mutex
	enabled bool
	l       *slog.Logger
}

// Named returns a child capability with a dotted name below l.
func (l *Log) Named(name string) *Log {
	return &Log{name: l.name + "." + name, root: l.root}
}

// Name returns the dotted source name.
func (l *Log) Name() string {
	return l.name
}

// SetEnabled switches the capability on or off. A disabled Log drops all
// calls without touching the handler.
func (l *Log) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Enabled reports whether the capability currently emits records.
func (l *Log) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// logger performs the initialization check shared by all logging methods: it
// returns nil while disabled and binds the named logger on first use.
func (l *Log) logger() *slog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return nil
	}
	if l.l == nil {
		name := l.name
		if name == "" {
			name = unknownSource
		}
		l.l = l.root.logger.With(slog.String(l.root.h.gate.sourceAttrKey(), name))
	}
	return l.l
}

// log emits one record on the bound logger, attributing the call site of the
// exported method's caller.
func (l *Log) log(level slog.Level, msg string, args ...any) {
	logger := l.logger()
	if logger == nil {
		return
	}
	ctx := context.Background()
	h := logger.Handler()
	if !h.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	// Skip runtime.Callers, log and the exported wrapper method.
	runtime.Callers(3, pcs[:])
	rec := slog.NewRecord(time.Now(), level, msg, pcs[0])
	rec.Add(args...)
	_ = h.Handle(ctx, rec)
}

// Debug logs at slog.LevelDebug.
func (l *Log) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs at slog.LevelInfo.
func (l *Log) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs at slog.LevelWarn.
func (l *Log) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs at slog.LevelError.
func (l *Log) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

// Critical logs at LevelCritical.
func (l *Log) Critical(msg string, args ...any) {
	l.log(LevelCritical, msg, args...)
}

// Exception logs err at slog.LevelError together with the stack trace of the
// calling goroutine, attached under the configured error and stack keys.
// Such records count twice against the source's notification budget. A nil
// err produces no log message.
func (l *Log) Exception(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	if l.logger() == nil {
		return
	}
	args = append(args,
		slog.Any(l.root.h.gate.errorAttrKey(), err),
		slog.String(l.root.h.gate.stackAttrKey(), string(debug.Stack())),
	)
	l.log(slog.LevelError, msg, args...)
}
