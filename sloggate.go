package sloggate

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Constants for default values.
const (
	version           = "1.2.0"
	defaultConfigFile = "sloggate.yml"
	defaultLogLevel   = LogLevelInfo

	defaultCooldown     = 500 * time.Millisecond
	defaultNotifyBudget = 2
	defaultSourceKey    = "logger"
	defaultErrorKey     = "error"
	defaultStackKey     = "stack"
	unknownSource       = "unknown"
)

// Available log levels for level strings understood by GetLogLevel.
const (
	LogLevelDebug    = "DEBUG"
	LogLevelInfo     = "INFO"
	LogLevelWarn     = "WARN"
	LogLevelWarning  = "WARNING"
	LogLevelError    = "ERROR"
	LogLevelCritical = "CRITICAL"
	LogLevelFatal    = "FATAL"
)

// LevelCritical is the severity used by Log.Critical, one step beyond
// slog.LevelError in the spacing slog uses for its built-in levels.
const LevelCritical = slog.LevelError + 4

// sloggate contains all required handler configurations together with the
// gate state shared by every handler derived from one NewHandler call.
type sloggate struct {
	logger *slog.Logger
	opts   *HandlerOptions
	gate   *gate
	mu     sync.Mutex
	doneCh chan struct{}
}

// initConfigFileWatcher watches the specified config file for changes and
// reflects them instantly in the gate's behavior during program runtime
// without restarting.
func (s *sloggate) initConfigFileWatcher() chan struct{} {
	if !checkFileExists(s.opts.ConfigFile) {
		s.logger.Debug(fmt.Sprintf("config file %q is missing! -> file watcher is disabled.", s.opts.ConfigFile))
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Debug(err.Error())
		return nil
	}

	// Add the config file to watch.
	if err = watcher.Add(s.opts.ConfigFile); err != nil {
		s.logger.Debug(err.Error())
		return nil
	}

	doneCh := make(chan struct{})
	// Start listening for events.
	go func() {
		s.logger.Debug("config file watcher started.")

		disableWatcher := func(msg string) {
			s.mu.Lock()
			cfgFile := s.opts.ConfigFile
			s.opts.EnableFileWatcher = false
			s.opts.ConfigFile = ""
			s.mu.Unlock()
			s.logger.Debug(fmt.Sprintf(msg, cfgFile))
			s.initHandler()
		}

		closeWatcher := func() {
			if err := watcher.Close(); err != nil {
				s.logger.Debug("config file watcher error: " + err.Error())
				return
			}
			s.logger.Debug("config file watcher stopped.")
		}

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				switch {
				case event.Has(fsnotify.Remove):
					disableWatcher("config file (%s) has been removed.")
					closeWatcher()
					return
				case event.Has(fsnotify.Rename):
					disableWatcher("config file (%s) has been renamed.")
					closeWatcher()
					return
				case event.Has(fsnotify.Write):
					s.logger.Debug(fmt.Sprintf("config file (%s) was modified.", event.Name))
					s.loadConfig()
					s.initHandler()
					closeWatcher()
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Debug("config file watcher error: " + err.Error())
			case <-doneCh:
				closeWatcher()
				return
			}
		}
	}()

	return doneCh
}

// initHandler applies the current HandlerOptions to the gate and manages the
// file watcher lifecycle. A configuration change swaps the gate parameters
// but never resets the error counters or the duplicate cache.
func (s *sloggate) initHandler() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Config == nil {
		s.opts.Config = &Config{}
	}
	cfg := s.opts.Config

	cooldown := defaultCooldown
	if cfg.Cooldown != "" {
		d, err := time.ParseDuration(cfg.Cooldown)
		switch {
		case err != nil:
			s.logger.Debug(fmt.Sprintf("invalid cooldown: %q! -> fallback to cooldown %s", cfg.Cooldown, defaultCooldown))
		case d < 0:
			s.logger.Debug(fmt.Sprintf("negative cooldown: %q! -> fallback to cooldown %s", cfg.Cooldown, defaultCooldown))
		default:
			cooldown = d
		}
	}

	budget := cfg.NotifyBudget
	if budget <= 0 {
		budget = defaultNotifyBudget
	}
	srcKey := cfg.SourceKey
	if srcKey == "" {
		srcKey = defaultSourceKey
	}
	errKey := cfg.ErrorKey
	if errKey == "" {
		errKey = defaultErrorKey
	}
	stackKey := cfg.StackKey
	if stackKey == "" {
		stackKey = defaultStackKey
	}

	s.gate.configure(cooldown, budget, srcKey, errKey, stackKey, s.opts.Notifier)

	s.gate.srcMap.Range(func(k, _ any) bool {
		s.gate.srcMap.Delete(k)
		return true
	})
	for _, v := range cfg.Sources {
		src := &source{
			name:   v.Name,
			budget: v.NotifyBudget,
		}
		if src.budget <= 0 {
			src.budget = budget
		}
		s.gate.srcMap.Store(src.name, src)
	}

	if s.doneCh != nil {
		close(s.doneCh)
		s.doneCh = nil
	}
	if s.opts.EnableFileWatcher {
		s.doneCh = s.initConfigFileWatcher()
	}
}

// loadConfig reads the config file referenced by the HandlerOptions into
// HandlerOptions.Config. A missing or broken file leaves an empty Config in
// place, which makes initHandler fall back to the package defaults.
func (s *sloggate) loadConfig() *sloggate {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cfg Config
	data, err := os.ReadFile(s.opts.ConfigFile)
	if err != nil {
		s.logger.Debug(fmt.Sprintf("error reading config file (%s): %s", s.opts.ConfigFile, err.Error()))
		s.opts.Config = &Config{}
		return s
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		s.logger.Debug(fmt.Sprintf("error unmarshalling config file (%s): %s", s.opts.ConfigFile, err.Error()))
		s.opts.Config = &Config{}
		return s
	}
	s.opts.Config = &cfg
	return s
}

// getLogLevel converts string log levels to their slog.Level representation.
// Can be one of ["DEBUG", "INFO", "WARN"/"WARNING", "ERROR" or
// "CRITICAL"/"FATAL"]. Additionally, it accepts the aforementioned strings
// +/- an integer for representing additional log levels, not defined by the
// log/slog package. Example: DEBUG-2 or ERROR+4
func getLogLevel(level string) slog.Level {
	levelMap := map[string]slog.Level{
		LogLevelDebug:    slog.LevelDebug,
		LogLevelInfo:     slog.LevelInfo,
		LogLevelWarn:     slog.LevelWarn,
		LogLevelWarning:  slog.LevelWarn,
		LogLevelError:    slog.LevelError,
		LogLevelCritical: LevelCritical,
		LogLevelFatal:    LevelCritical,
	}
	level = strings.ToUpper(level)
	matches := regexp.MustCompile(`([a-zA-Z]+)(([+\-])(\d+))?`).FindStringSubmatch(level)

	slogLevel := levelMap[defaultLogLevel]
	if len(matches) != 5 {
		return slogLevel
	}

	slogLevel, ok := levelMap[matches[1]]
	if !ok {
		return levelMap[defaultLogLevel]
	}

	if matches[4] != "" {
		nb, _ := strconv.Atoi(matches[4])
		if matches[3] == "-" {
			return slog.Level(int(slogLevel) - nb)
		}
		return slog.Level(int(slogLevel) + nb)
	}
	return slogLevel
}

// checkFileExists returns true if a file exists at that location on disk.
func checkFileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return !errors.Is(err, os.ErrNotExist)
}
