package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Scheduler.MaxConcurrentRuns != 2 {
		t.Errorf("MaxConcurrentRuns = %d, want 2", cfg.Scheduler.MaxConcurrentRuns)
	}
	if cfg.Scheduler.DefaultEngine != "lemon" {
		t.Errorf("DefaultEngine = %q, want lemon", cfg.Scheduler.DefaultEngine)
	}
	if cfg.Stream.MinChars != 48 || cfg.Stream.IdleMs != 400 || cfg.Stream.MaxLatencyMs != 1200 {
		t.Errorf("Stream defaults = %+v, want 48/400/1200", cfg.Stream)
	}
	if cfg.Watchdog.IdleLimit.Value() != 2*time.Hour {
		t.Errorf("WatchdogIdleLimit = %v, want 2h", cfg.Watchdog.IdleLimit.Value())
	}
	if cfg.Compaction.PreemptiveRatio != 0.9 {
		t.Errorf("PreemptiveRatio = %v, want 0.9", cfg.Compaction.PreemptiveRatio)
	}
	if cfg.RunSuper.MaxChildren != 500 {
		t.Errorf("MaxChildren = %d, want 500", cfg.RunSuper.MaxChildren)
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxConcurrentRuns != 2 {
		t.Errorf("MaxConcurrentRuns = %d, want default 2", cfg.Scheduler.MaxConcurrentRuns)
	}
}

func TestLoadOverlaysFileValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	body := `{
		// trailing comment, json5 allows it
		scheduler: { max_concurrent_runs: 7, default_engine: "claude-cli" },
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxConcurrentRuns != 7 {
		t.Errorf("MaxConcurrentRuns = %d, want 7", cfg.Scheduler.MaxConcurrentRuns)
	}
	if cfg.Scheduler.DefaultEngine != "claude-cli" {
		t.Errorf("DefaultEngine = %q, want claude-cli", cfg.Scheduler.DefaultEngine)
	}
	// Untouched fields keep their defaults.
	if cfg.Stream.MinChars != 48 {
		t.Errorf("MinChars = %d, want default 48", cfg.Stream.MinChars)
	}
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGENTCORE_TELEGRAM_TOKEN", "tok-123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channels.Telegram.Token != "tok-123" {
		t.Errorf("Telegram.Token = %q, want tok-123", cfg.Channels.Telegram.Token)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("Telegram.Enabled = false, want true once token is set via env")
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte(`"400ms"`)); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if d.Value() != 400*time.Millisecond {
		t.Errorf("Value() = %v, want 400ms", d.Value())
	}
	out, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(out) != `"400ms"` {
		t.Errorf("MarshalJSON = %s, want \"400ms\"", out)
	}
}
