package sloggate

import (
	"log/slog"
	"runtime"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Constants for Setup's log file rotation defaults.
const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
)

// SetupOptions configures Setup.
type SetupOptions struct {
	Level      string // Log level string understood by GetLogLevel; empty selects INFO.
	OutputFile string // Log file path; empty disables output entirely.
	MaxSizeMB  int    // Rotate the log file after this many megabytes; <= 0 selects 10.
	MaxBackups int    // Rotated files to keep around; <= 0 selects 3.
	Compress   bool   // Compress rotated files.
	JSONFormat bool   // Write JSON records instead of logfmt lines.

	Debug             bool
	Config            *Config
	ConfigFile        string
	EnableFileWatcher bool
	Notifier          Notifier
}

// Setup builds a ready-to-use logging root: a rotating log file behind a
// gate Handler, announced with a start banner on the "logging" source.
// Without an output file the root stays silent, since all records end up in
// a nil handler.
func Setup(opts SetupOptions) *Root {
	hOpts := &HandlerOptions{
		Debug:             opts.Debug,
		Config:            opts.Config,
		ConfigFile:        opts.ConfigFile,
		EnableFileWatcher: opts.EnableFileWatcher,
		Notifier:          opts.Notifier,
	}

	if opts.OutputFile == "" {
		return NewRoot(NewHandler(NewNilHandler(), hOpts))
	}

	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = defaultMaxSizeMB
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = defaultMaxBackups
	}
	out := &lumberjack.Logger{
		Filename:   opts.OutputFile,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   opts.Compress,
	}

	slogOpts := &slog.HandlerOptions{Level: getLogLevel(opts.Level)}
	var slogh slog.Handler
	if opts.JSONFormat {
		slogh = slog.NewJSONHandler(out, slogOpts)
	} else {
		slogh = slog.NewTextHandler(out, slogOpts)
	}

	root := NewRoot(NewHandler(slogh, hOpts))

	log := root.Named("logging")
	log.SetEnabled(true)
	log.Info("--- log start ---")
	log.Info("logging initialized", "version", version, "go", runtime.Version())

	if opts.Notifier != nil {
		_ = opts.Notifier.Notify("logging to " + opts.OutputFile)
	}

	return root
}
