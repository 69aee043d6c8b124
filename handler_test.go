package sloggate_test

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apperia-de/sloggate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_GetConfig(t *testing.T) {
	h := sloggate.NewHandler(sloggate.NewNilHandler(), &sloggate.HandlerOptions{
		Config: &sloggate.Config{Cooldown: "250ms", NotifyBudget: 4},
	})
	cfg := h.GetConfig()
	assert.Equal(t, "250ms", cfg.Cooldown)
	assert.Equal(t, 4, cfg.NotifyBudget)
	assert.Equal(t, []sloggate.Source(nil), cfg.Sources)
}

func TestHandler_UseConfig(t *testing.T) {
	n := &notifications{}
	h := sloggate.NewHandler(sloggate.NewNilHandler(), &sloggate.HandlerOptions{
		Config:   &sloggate.Config{Cooldown: "100ms"},
		Notifier: n,
	})

	h.UseConfig(sloggate.Config{
		Cooldown: "1s",
		Sources:  []sloggate.Source{{Name: "app.db", NotifyBudget: 1}},
	})
	cfg := h.GetConfig()
	assert.Equal(t, "1s", cfg.Cooldown)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "app.db", cfg.Sources[0].Name)

	// The new per-source budget is live.
	db := boundTo(h, "app.db")
	require.NoError(t, db.Handle(ctx, record(t0, slog.LevelError, "d1")))
	require.NoError(t, db.Handle(ctx, record(t0.Add(2*time.Second), slog.LevelError, "d2")))
	assert.Equal(t, []string{"d1"}, n.msgs)
}

func TestHandler_UseConfigTemporarily(t *testing.T) {
	var buf bytes.Buffer
	h := sloggate.NewHandler(slog.NewTextHandler(&buf, nil), &sloggate.HandlerOptions{
		Config: &sloggate.Config{Cooldown: "0s"},
	})
	l := slog.New(h)

	l.Info("ping")
	l.Info("ping")

	h.UseConfigTemporarily(sloggate.Config{Cooldown: "10s"}, time.Second)
	cfg := h.GetConfig()
	assert.Equal(t, "10s", cfg.Cooldown)

	// Suppressed while the temporary cooldown is active.
	l.Info("ping")
	l.Info("ping")

	time.Sleep(time.Second + 100*time.Millisecond)
	cfg = h.GetConfig()
	assert.Equal(t, "0s", cfg.Cooldown)

	l.Info("ping")
	assert.Equal(t, 3, countLogLines(buf))
}

func TestHandler_UseConfigFile(t *testing.T) {
	var buf bytes.Buffer
	h := sloggate.NewHandler(slog.NewTextHandler(&buf, nil), &sloggate.HandlerOptions{
		Config: &sloggate.Config{Cooldown: "1h"},
	})
	l := slog.New(h)

	l.Info("tick")
	l.Info("tick")
	assert.Equal(t, 1, countLogLines(buf))

	h.UseConfigFile(testConfigFile)
	cfg := h.GetConfig()
	assert.Equal(t, "0s", cfg.Cooldown)
	assert.Equal(t, 3, cfg.NotifyBudget)

	l.Info("tick")
	l.Info("tick")
	assert.Equal(t, 3, countLogLines(buf))
}

func TestHandler_ConcurrentConfigReload(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "sloggate.yml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("cooldown: 0s\n"), 0o644))

	out := &sink{}
	h := sloggate.NewHandler(out, &sloggate.HandlerOptions{
		ConfigFile:        cfgFile,
		EnableFileWatcher: true,
	})

	// One goroutine swaps the config file while another removes and rewrites
	// it, driving watcher teardowns and restarts in the background.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			h.UseConfigFile(cfgFile)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			_ = os.Remove(cfgFile)
			_ = os.WriteFile(cfgFile, []byte("cooldown: 0s\n"), 0o644)
		}
	}()
	wg.Wait()

	require.NoError(t, h.Handle(ctx, record(t0, slog.LevelInfo, "still serving")))
	assert.Len(t, out.records, 1)
}

func TestHandler_WithAttrs(t *testing.T) {
	n := &notifications{}
	h, _ := newTestHandler(nil, n)

	db := h.WithAttrs([]slog.Attr{slog.String("logger", "app.db")})
	api := db.WithAttrs([]slog.Attr{slog.String("logger", "app.api")})
	// A non-string value does not rebind the source.
	still := db.WithAttrs([]slog.Attr{slog.Int("logger", 7)})

	require.NoError(t, db.Handle(ctx, record(t0, slog.LevelError, "db boom")))
	require.NoError(t, api.Handle(ctx, record(t0.Add(time.Second), slog.LevelError, "api boom")))
	require.NoError(t, still.Handle(ctx, record(t0.Add(2*time.Second), slog.LevelError, "still db")))
	require.NoError(t, db.Handle(ctx, record(t0.Add(3*time.Second), slog.LevelError, "db boom 2")))

	// "app.db" spent its budget on "db boom" and "still db"; "app.api"
	// counts on its own.
	assert.Equal(t, []string{"db boom", "api boom", "still db"}, n.msgs)
}

func TestHandler_Enabled(t *testing.T) {
	inner := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := sloggate.NewHandler(inner, nil)

	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelWarn))
	assert.True(t, h.Enabled(ctx, slog.LevelError))
}

func countLogLines(buf bytes.Buffer) (n int) {
	for {
		line, err := buf.ReadString('\n')
		if len(strings.TrimSpace(line)) > 0 {
			n++
		}
		if err != nil {
			return n
		}
	}
}
