package sloggate

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Handler is a slog.Handler middleware that sits between the slog facility
// and a wrapped handler: every record passes through the gate exactly once
// before it may reach the wrapped handler. Handlers derived via WithAttrs or
// WithGroup share one gate, so duplicate suppression and notification
// budgets stay process-wide.
type Handler struct {
	*sloggate
	slogh  slog.Handler
	source string
}

// NewHandler creates a new slog.Handler that filters records through the
// gate before they reach h.
func NewHandler(h slog.Handler, opts *HandlerOptions) *Handler {
	o := HandlerOptions{}

	if opts != nil {
		o = *opts
	}

	if o.ConfigFile == "" {
		o.ConfigFile = defaultConfigFile
	}

	logger := slog.New(NewNilHandler())
	switch h.(type) {
	case nil:
		panic("slog.Handler must not be nil")
	case *Handler:
		panic("slog.Handler must not be of type *Handler")
	default:
		// If debug mode is enabled, we use the given log Handler also for internal log messages.
		if o.Debug {
			logger = slog.New(h).WithGroup("sloggate").With(slog.Attr{
				Key:   "version",
				Value: slog.StringValue(version),
			})
			logger.Debug("debug mode enabled")
		}
	}

	sg := &sloggate{logger: logger, opts: &o}
	sg.gate = newGate(logger)
	defer sg.initHandler()

	// We load the HandlerOptions.Config from a config file if no HandlerOptions.Config is provided.
	if sg.opts.Config == nil && sg.opts.ConfigFile != "" {
		sg.loadConfig()
	}

	return &Handler{
		sloggate: sg,
		slogh:    h,
	}
}

func (h *Handler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.slogh.Enabled(ctx, lvl)
}

func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	if !h.gate.check(rec, h.source) {
		return nil
	}
	return h.slogh.Handle(ctx, rec)
}

// WithAttrs derives a handler that keeps filtering through the shared gate.
// An attr matching the configured source key binds the source name used for
// duplicate signatures and notification budgets.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.slogh = h.slogh.WithAttrs(attrs)
	for _, a := range attrs {
		if a.Key == h.gate.sourceAttrKey() && a.Value.Kind() == slog.KindString {
			h2.source = a.Value.String()
		}
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	h2 := *h
	h2.slogh = h.slogh.WithGroup(name)
	return &h2
}

// GetConfig returns the current configuration, which may be adjusted and then used with UseConfig(cfg Config).
func (h *Handler) GetConfig() Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return *h.opts.Config
}

// UseConfig takes a new Config and immediately applies it to the current configuration.
// It also disables any active file watcher.
func (h *Handler) UseConfig(cfg Config) {
	h.mu.Lock()
	h.opts.EnableFileWatcher = false
	h.opts.Config = &cfg
	h.mu.Unlock()

	h.initHandler()
	h.logger.Debug(fmt.Sprintf("using config: %#v", cfg))
}

// UseConfigTemporarily takes a new Config and immediately applies it to the current configuration.
// In contrast to UseConfig(cfg Config), this function automatically reverts to the state before calling the method,
// after revert amount of time has elapsed.
func (h *Handler) UseConfigTemporarily(cfg Config, revert time.Duration) {
	h.mu.Lock()
	oldCfg := *h.opts.Config
	enableFileWatcher := h.opts.EnableFileWatcher

	h.opts.EnableFileWatcher = false
	h.opts.Config = &cfg
	h.mu.Unlock()

	h.initHandler()

	go func() {
		<-time.After(revert)
		if enableFileWatcher {
			h.UseConfigFile()
		} else {
			h.UseConfig(oldCfg)
		}
		h.logger.Debug(fmt.Sprintf("reverted config to original: %#v", oldCfg))
	}()
	h.logger.Debug(fmt.Sprintf("using config: %#v", cfg))
}

// UseConfigFile takes a filename as an argument that will be used for watching a config file for changes.
// If no such filename is given, the Handler uses the already existing ConfigFile from the HandlerOptions or,
// if not present, falls back to the default config file (specified via defaultConfigFile).
func (h *Handler) UseConfigFile(cfgFile ...string) {
	h.mu.Lock()
	if len(cfgFile) == 1 && cfgFile[0] != "" {
		h.opts.ConfigFile = cfgFile[0]
	}
	if h.opts.ConfigFile == "" {
		h.opts.ConfigFile = defaultConfigFile
	}

	h.opts.EnableFileWatcher = true
	file := h.opts.ConfigFile
	h.mu.Unlock()

	h.loadConfig().initHandler()
	h.logger.Debug(fmt.Sprintf("using config file (%s): %#v", file, h.GetConfig()))
}

// GetLogLevel converts string log levels to slog.Level representation.
// Can be one of ["DEBUG", "INFO", "WARN"/"WARNING", "ERROR" or "CRITICAL"/"FATAL"].
// Additionally, it accepts the aforementioned strings +/- an integer for representing additional log levels, not
// defined by the log/slog package.
// Example: DEBUG-2 or ERROR+4
func (h *Handler) GetLogLevel(level string) slog.Level {
	return getLogLevel(level)
}

type nilHandler struct{}

// NewNilHandler provides a nil slog.Handler for silencing slog.Log() calls.
func NewNilHandler() slog.Handler {
	return &nilHandler{}
}

func (h *nilHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return false
}

func (h *nilHandler) Handle(_ context.Context, _ slog.Record) error {
	return nil
}

func (h *nilHandler) WithAttrs([]slog.Attr) slog.Handler {
	return h
}

func (h *nilHandler) WithGroup(_ string) slog.Handler {
	return h
}
