package sloggate

type Config struct {
	Cooldown     string   `yaml:"cooldown"`      // Duplicate suppression window (time.ParseDuration syntax).
	NotifyBudget int      `yaml:"notify_budget"` // Per-source notification cap; <= 0 selects the default of 2.
	SourceKey    string   `yaml:"source_key"`
	ErrorKey     string   `yaml:"error_key"`
	StackKey     string   `yaml:"stack_key"`
	Sources      []Source `yaml:"sources"`
}

type HandlerOptions struct {
	Debug             bool
	Config            *Config
	ConfigFile        string
	EnableFileWatcher bool
	Notifier          Notifier
}

type Source struct {
	Name         string `yaml:"name"`
	NotifyBudget int    `yaml:"notify_budget"`
}

// Notifier receives the fully formatted message of error records that still
// have notification budget left. Implementations are best-effort: a returned
// error never changes a filter verdict.
type Notifier interface {
	Notify(msg string) error
}

// NotifierFunc adapts a plain function to the Notifier interface.
type NotifierFunc func(msg string) error

func (f NotifierFunc) Notify(msg string) error { return f(msg) }
