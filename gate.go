package sloggate

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"
)

// signature identifies a record for duplicate detection: everything that makes
// two log calls byte-identical, minus the timestamp.
type signature struct {
	level  slog.Level
	source string
	msg    string
	attrs  string
}

// gate decides per record whether it may proceed to the wrapped handler and
// forwards the first errors of every source to the Notifier. All mutable
// state is guarded by mu, held for the full duration of one check call.
type gate struct {
	mu       sync.Mutex
	cooldown time.Duration
	budget   int
	srcKey   string
	errKey   string
	stackKey string
	notifier Notifier
	logger   *slog.Logger

	srcMap   sync.Map // per-source budget overrides, name -> *source
	last     *signature
	lastTime time.Time
	counts   map[string]int
}

// source contains information about the source name and corresponding
// notification budget.
type source struct {
	name   string
	budget int
}

func newGate(logger *slog.Logger) *gate {
	return &gate{
		cooldown: defaultCooldown,
		budget:   defaultNotifyBudget,
		srcKey:   defaultSourceKey,
		errKey:   defaultErrorKey,
		stackKey: defaultStackKey,
		logger:   logger,
		counts:   make(map[string]int),
	}
}

// configure applies config-derived parameters. The duplicate cache and the
// error counters survive reconfiguration; they live for the process lifetime.
func (g *gate) configure(cooldown time.Duration, budget int, srcKey, errKey, stackKey string, n Notifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldown = cooldown
	g.budget = budget
	g.srcKey = srcKey
	g.errKey = errKey
	g.stackKey = stackKey
	g.notifier = n
}

func (g *gate) sourceAttrKey() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.srcKey
}

func (g *gate) errorAttrKey() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errKey
}

func (g *gate) stackAttrKey() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stackKey
}

// check evaluates a single record and returns whether it may pass on to the
// wrapped handler. boundSource is the source name bound via WithAttrs and may
// be empty, in which case the source is derived from the record's call site.
func (g *gate) check(rec slog.Record, boundSource string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := rec.Time
	if now.IsZero() {
		now = time.Now()
	}
	elapsed := now.Sub(g.lastTime)
	// The cooldown clock advances on every evaluated record, not only on
	// accepted ones.
	g.lastTime = now

	src := boundSource
	if src == "" {
		src = sourceForPC(rec.PC)
	}

	attrs, hasError, hasStack := renderAttrs(rec, g.errKey, g.stackKey)
	sig := signature{level: rec.Level, source: src, msg: rec.Message, attrs: attrs}

	if g.last != nil && sig == *g.last && elapsed < g.cooldown {
		// The same record came in too fast; drop it without touching any
		// other state.
		return false
	}
	g.last = &sig

	if rec.Level >= slog.LevelError {
		budget := g.budgetFor(src)
		g.counts[src]++
		if g.counts[src] <= budget {
			g.notify(formatMessage(rec.Message, attrs))
		}
		if hasError && hasStack {
			// A record carrying both an error and a stack trace counts
			// twice against the budget.
			g.counts[src]++
		}
	} else if c := g.counts[src]; c > 0 && c < g.budgetFor(src) {
		// Below the silencing threshold the error counter resets; at or
		// above it the source stays silenced until process exit.
		g.counts[src] = 0
	}
	return true
}

// budgetFor must be called with mu held.
func (g *gate) budgetFor(name string) int {
	if v, ok := g.srcMap.Load(name); ok {
		return v.(*source).budget
	}
	return g.budget
}

// notify sends the formatted message to the notifier. Failures never reach
// the caller: the verdict and the counters are already settled at this point.
func (g *gate) notify(msg string) {
	if g.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Debug(fmt.Sprintf("notifier panicked: %v", r))
		}
	}()
	if err := g.notifier.Notify(msg); err != nil {
		g.logger.Debug(fmt.Sprintf("notifier failed: %s", err.Error()))
	}
}

// renderAttrs renders the call-site attrs of a record into their canonical
// k=v form and reports whether the designated error and stack attrs are
// present.
func renderAttrs(rec slog.Record, errKey, stackKey string) (attrs string, hasError, hasStack bool) {
	if rec.NumAttrs() == 0 {
		return "", false, false
	}
	var b strings.Builder
	rec.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case errKey:
			hasError = true
		case stackKey:
			hasStack = true
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(a.String())
		return true
	})
	return b.String(), hasError, hasStack
}

// formatMessage is the fully interpolated form handed to the Notifier.
func formatMessage(msg, attrs string) string {
	if attrs == "" {
		return msg
	}
	return msg + " " + attrs
}

// sourceForPC derives a source name from the package of the record's call
// site. Records without a PC fall back to "unknown".
func sourceForPC(pc uintptr) string {
	if pc == 0 {
		return unknownSource
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.Function == "" {
		return unknownSource
	}
	return packageName(frame.Function)
}

// packageName extracts the package part of a fully qualified function name,
// e.g. "github.com/apperia-de/sloggate/examples/pkg/app.(*App).Run" yields
// "github.com/apperia-de/sloggate/examples/pkg/app".
func packageName(funcName string) string {
	lastSlash := strings.LastIndexByte(funcName, '/')
	if lastSlash < 0 {
		lastSlash = 0
	}
	firstDot := strings.IndexByte(funcName[lastSlash:], '.') + lastSlash
	if firstDot < lastSlash {
		return funcName
	}
	return funcName[:firstDot]
}
