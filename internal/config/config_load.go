package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// Default returns a Config seeded with spec §6's documented defaults.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxConcurrentRuns:  2,
			DefaultEngine:      "lemon",
			GroupMaxConcurrent: 3,
			KillTimeoutMs:      2000,
			SweepCron:          "*/5 * * * *",
		},
		Stream: StreamConfig{
			MinChars:     48,
			IdleMs:       400,
			MaxLatencyMs: 1200,
			MaxFullText:  100_000,
		},
		ToolStatus: ToolStatusConfig{
			MaxActions:  40,
			MsgTruncate: 140,
		},
		Watchdog: WatchdogConfig{
			IdleLimit:      Duration(2 * time.Hour),
			ConfirmTimeout: Duration(5 * time.Minute),
		},
		Compaction: CompactionConfig{
			PreemptiveRatio: 0.9,
			PendingTTL:      Duration(12 * time.Hour),
		},
		Retry: RetryConfig{MaxAttempts: 1},
		Engine: EngineConfig{
			KillTimeout:  Duration(2 * time.Second),
			ContextLimit: 200_000,
		},
		RunSuper: RunSupervisorConfig{MaxChildren: 500},
		Sessions: SessionsConfig{
			Scope:      "per-peer",
			DmScope:    "per-channel-peer",
			DebounceMs: 1000,
			DedupeTTL:  Duration(20 * time.Minute),
		},
		Gateway: GatewayConfig{Host: "0.0.0.0", Port: 8790},
		Database: DatabaseConfig{Driver: "sqlite", SqlitePath: "agentcore.db"},
	}
}

// Load reads config from a JSON5 file, falling back to Default() when
// the file is absent, then overlays environment-variable secrets
// (grounded on the teacher's internal/config/config_load.go Load()).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays secrets (channel tokens, the Anthropic API
// key, the Postgres DSN), the Anthropic model and the telemetry
// endpoint/enabled flag from the environment. A channel token enables
// that channel and a Postgres DSN selects the postgres driver. None of
// these are persisted back to the JSON5 file (teacher's
// DatabaseConfig.PostgresDSN pattern, SPEC_FULL §A).
func (c *Config) applyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("AGENTCORE_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	envStr("AGENTCORE_DISCORD_TOKEN", &c.Channels.Discord.Token)
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	envStr("AGENTCORE_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("AGENTCORE_ANTHROPIC_MODEL", &c.Providers.Anthropic.Model)
	envStr("AGENTCORE_POSTGRES_DSN", &c.Database.PostgresDSN)
	if c.Database.PostgresDSN != "" {
		c.Database.Driver = "postgres"
	}
	envStr("AGENTCORE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	if v := os.Getenv("AGENTCORE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "1" || v == "true"
	}
}

// Watch starts an fsnotify watch on path, invoking onChange with the
// freshly reloaded Config whenever the file is written (hot-reload of
// watchdog/sessions tunables without a restart, SPEC_FULL §B). The
// returned stop func closes the watcher; callers should defer it.
func Watch(path string, onChange func(*Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, loadErr := Load(path)
				if loadErr != nil {
					slog.Warn("config.reload_failed", "path", path, "error", loadErr)
					continue
				}
				slog.Info("config.reloaded", "path", path)
				onChange(cfg)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config.watch_error", "error", watchErr)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
