// Package config defines the Config struct tree for this module — every
// item in spec §6's configuration surface, plus the channel/agent
// settings needed to wire them up — unmarshaled from JSON5 and overlaid
// with environment-variable secrets. Grounded on the teacher's
// internal/config package (config.go's "one struct tree, mu-guarded,
// Default()+Load() pair" shape).
package config

import (
	"sync"
	"time"
)

// Config is the root configuration for this gateway.
type Config struct {
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Stream     StreamConfig     `json:"stream_coalescer"`
	ToolStatus ToolStatusConfig `json:"tool_status"`
	Watchdog   WatchdogConfig   `json:"watchdog"`
	Compaction CompactionConfig `json:"compaction"`
	Retry      RetryConfig      `json:"retry"`
	Engine     EngineConfig     `json:"engine"`
	RunSuper   RunSupervisorConfig `json:"run_supervisor"`
	Sessions   SessionsConfig   `json:"sessions"`

	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// SchedulerConfig carries spec §6's max_concurrent_runs and default_engine.
type SchedulerConfig struct {
	MaxConcurrentRuns int    `json:"max_concurrent_runs"`
	DefaultEngine     string `json:"default_engine"`
	GroupMaxConcurrent int   `json:"group_max_concurrent"`
	KillTimeoutMs     int    `json:"kill_timeout_ms"`
	// SweepCron is the cron expression (parsed by gronx) driving the
	// periodic sweep that expires pending-compaction markers and reaps
	// orphaned run processes (SPEC_FULL §B).
	SweepCron string `json:"sweep_cron"`
}

// StreamConfig mirrors coalesce.StreamConfig's on-disk shape.
type StreamConfig struct {
	MinChars     int `json:"min_chars"`
	IdleMs       int `json:"idle_ms"`
	MaxLatencyMs int `json:"max_latency_ms"`
	MaxFullText  int `json:"max_full_text"`
}

// ToolStatusConfig mirrors coalesce.ToolStatusConfig's on-disk shape.
type ToolStatusConfig struct {
	MaxActions   int `json:"max_actions"`
	MsgTruncate  int `json:"msg_truncate"`
}

// WatchdogConfig carries spec §6's watchdog tunables.
type WatchdogConfig struct {
	IdleLimit      Duration `json:"idle_limit"`
	ConfirmTimeout Duration `json:"confirm_timeout"`
}

// CompactionConfig carries spec §6's compaction tunables.
type CompactionConfig struct {
	PreemptiveRatio float64  `json:"preemptive_ratio"`
	PendingTTL      Duration `json:"pending_ttl"`
}

// RetryConfig carries spec §6's retry tunables.
type RetryConfig struct {
	MaxAttempts int `json:"max_attempts"`
}

// EngineConfig carries spec §6's engine tunables.
type EngineConfig struct {
	KillTimeout Duration `json:"kill_timeout"`
	ContextLimit int     `json:"context_limit"`
	CLICommand   string  `json:"cli_command,omitempty"`
}

// RunSupervisorConfig carries spec §6's run_supervisor.max_children.
type RunSupervisorConfig struct {
	MaxChildren int `json:"max_children"`
}

// SessionsConfig controls session-key derivation (spec §3/§4.2) and the
// supplemented "group vs DM concurrency" feature (SPEC_FULL §C.2).
type SessionsConfig struct {
	Scope   string `json:"scope"`    // "per-peer" (default) or "global"
	DmScope string `json:"dm_scope"` // spec §4.2 DM scoping tiers
	MainKey string `json:"main_key,omitempty"`
	DebounceMs int `json:"debounce_ms"`
	DedupeTTL  Duration `json:"dedupe_ttl"`
}

// ChannelsConfig holds per-channel adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig configures the telegram edit-in-place adapter.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"` // env AGENTCORE_TELEGRAM_TOKEN only
}

// DiscordConfig configures the discord edit-in-place adapter.
type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"` // env AGENTCORE_DISCORD_TOKEN only
}

// ProvidersConfig holds remote-engine provider credentials.
type ProvidersConfig struct {
	Anthropic AnthropicConfig `json:"anthropic"`
}

// AnthropicConfig configures internal/engine/remote's Anthropic adapter.
type AnthropicConfig struct {
	APIKey string `json:"-"` // env AGENTCORE_ANTHROPIC_API_KEY only
	Model  string `json:"model,omitempty"`
}

// GatewayConfig configures the HTTP/WS gateway server (internal/gateway).
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseConfig selects and configures the persisted-state backend
// (internal/store/sqlite or internal/store/pg).
type DatabaseConfig struct {
	Driver      string `json:"driver"` // "sqlite" (default) or "postgres"
	SqlitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"-"` // env AGENTCORE_POSTGRES_DSN only
}

// TelemetryConfig configures internal/tracing's OTel exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// Duration unmarshals from a JSON5/JSON string like "2h" or "400ms",
// matching the teacher's preference for human-readable durations over
// raw nanosecond integers in config.json.
type Duration time.Duration

func (d Duration) Value() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// Snapshot returns a copy of the config taken under its read lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	return cp
}
