package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentcore/internal/bus"
	"github.com/nextlevelbuilder/agentcore/internal/channeladapter"
	"github.com/nextlevelbuilder/agentcore/internal/channeladapter/discord"
	"github.com/nextlevelbuilder/agentcore/internal/channeladapter/telegram"
	"github.com/nextlevelbuilder/agentcore/internal/coalesce"
	"github.com/nextlevelbuilder/agentcore/internal/config"
	"github.com/nextlevelbuilder/agentcore/internal/engine"
	"github.com/nextlevelbuilder/agentcore/internal/engine/native"
	"github.com/nextlevelbuilder/agentcore/internal/engine/remote"
	"github.com/nextlevelbuilder/agentcore/internal/gateway"
	"github.com/nextlevelbuilder/agentcore/internal/health"
	"github.com/nextlevelbuilder/agentcore/internal/orchestrator"
	"github.com/nextlevelbuilder/agentcore/internal/registry"
	"github.com/nextlevelbuilder/agentcore/internal/router"
	"github.com/nextlevelbuilder/agentcore/internal/runprocess"
	"github.com/nextlevelbuilder/agentcore/internal/scheduler"
	"github.com/nextlevelbuilder/agentcore/internal/sessions"
	"github.com/nextlevelbuilder/agentcore/internal/store"
	"github.com/nextlevelbuilder/agentcore/internal/store/pg"
	"github.com/nextlevelbuilder/agentcore/internal/store/sqlite"
	"github.com/nextlevelbuilder/agentcore/internal/tracing"
)

const defaultAgentID = "default"

// busTransport adapts bus.MessageBus's PublishOutbound to the narrower
// channeladapter.Transport interface the Generic adapter expects.
type busTransport struct{ bus *bus.MessageBus }

func (t busTransport) Send(msg bus.OutboundMessage) { t.bus.PublishOutbound(msg) }

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway: channel intake, run orchestration, WebSocket/HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config.load_failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("store.open_failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, shutdownTracer, err := tracing.New(ctx, tracing.Config{
		ServiceName: firstNonEmptyStr(cfg.Telemetry.ServiceName, "agentcore"),
		Endpoint:    effectiveEndpoint(cfg),
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: 1,
	})
	if err != nil {
		slog.Error("tracing.init_failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracer(context.Background())
	_ = tracer

	engines := buildEngineRegistry(cfg)
	msgBus := bus.NewMessageBus()
	runs := registry.NewRunRegistry()
	channelAdapter := channeladapter.NewGeneric(busTransport{msgBus})

	deps := runprocess.Deps{
		Engines:    engines,
		Streams:    registry.NewKeyed[registry.CoalescerKey, *coalesce.Stream](),
		ToolStatus: registry.NewKeyed[registry.CoalescerKey, *coalesce.ToolStatus](),
		Runs:       runs,
		Store:      st,
		Config: runprocess.Config{
			WatchdogIdleLimit:      cfg.Watchdog.IdleLimit.Value(),
			WatchdogConfirmTimeout: cfg.Watchdog.ConfirmTimeout.Value(),
			CompactionRatio:        cfg.Compaction.PreemptiveRatio,
			CompactionPendingTTL:   cfg.Compaction.PendingTTL.Value(),
			RetryMaxAttempts:       cfg.Retry.MaxAttempts,
			EngineKillTimeout:      cfg.Engine.KillTimeout.Value(),
			ContextLimit:           cfg.Engine.ContextLimit,
			Stream:                 coalesce.DefaultStreamConfig(),
			ToolStatus:             coalesce.DefaultToolStatusConfig(),
		},
	}

	sched := scheduler.New(
		makeRunFactory(deps, channelAdapter),
		cfg.Scheduler.MaxConcurrentRuns,
		time.Duration(cfg.Scheduler.KillTimeoutMs)*time.Millisecond,
	)

	orch := &orchestrator.Orchestrator{
		Engines:            engines,
		Scheduler:          sched,
		Store:              st,
		GroupMaxConcurrent: cfg.Scheduler.GroupMaxConcurrent,
	}

	resolveAgent := func(msg bus.InboundMessage) (string, bool) { return defaultAgentID, true }

	rtr := router.New(router.Config{
		Scope:      cfg.Sessions.Scope,
		DmScope:    sessions.DmScope(cfg.Sessions.DmScope),
		MainKey:    cfg.Sessions.MainKey,
		DedupeTTL:  cfg.Sessions.DedupeTTL.Value(),
		DedupeMax:  10_000,
		DebounceMs: time.Duration(cfg.Sessions.DebounceMs) * time.Millisecond,
	}, resolveAgent, orch, sched, st)

	msgBus.ConsumeInbound(func(msg bus.InboundMessage) {
		if _, err := rtr.HandleInbound(msg); err != nil {
			slog.Error("router.handle_inbound_failed", "error", err, "channel", msg.Channel)
		}
	})

	sweeper := scheduler.NewSweeper(cfg.Scheduler.SweepCron, cfg.Compaction.PendingTTL.Value(), st, runs, sched)
	go sweeper.Run(ctx)

	reporter := &health.Reporter{
		Counts:    func() health.Counts { return health.Counts{Active: runs.Count()} },
		Completed: &health.CompletedToday{},
	}

	srv := gateway.NewServer(gateway.Config{
		Host: cfg.Gateway.Host,
		Port: cfg.Gateway.Port,
	}, msgBus, reporter)

	stopChannels := startChannels(ctx, cfg, msgBus)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("serve.shutdown_initiated", "signal", sig)
		for _, stop := range stopChannels {
			stop(context.Background())
		}
		cancel()
	}()

	slog.Info("serve.starting", "version", Version, "host", cfg.Gateway.Host, "port", cfg.Gateway.Port, "engines", engines.IDs())

	if err := srv.Start(ctx); err != nil {
		slog.Error("serve.gateway_error", "error", err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Driver == "postgres" && cfg.Database.PostgresDSN != "" {
		return pg.Open(cfg.Database.PostgresDSN)
	}
	path := cfg.Database.SqlitePath
	if path == "" {
		path = "agentcore.db"
	}
	return sqlite.Open(path)
}

// buildEngineRegistry registers the in-process "lemon" default and an
// optional Anthropic-backed remote adapter when an API key is configured.
func buildEngineRegistry(cfg *config.Config) *engine.Registry {
	reg := engine.NewRegistry(firstNonEmptyStr(cfg.Scheduler.DefaultEngine, "lemon"))
	reg.Register(native.New(native.EchoResponder{}))

	if cfg.Providers.Anthropic.APIKey != "" {
		remoteEngine, err := remote.New(remote.Config{
			ID:           "claude",
			APIKey:       cfg.Providers.Anthropic.APIKey,
			DefaultModel: cfg.Providers.Anthropic.Model,
		})
		if err != nil {
			slog.Warn("engine.remote_init_failed", "error", err)
		} else {
			reg.Register(remoteEngine)
		}
	}

	return reg
}

func firstNonEmptyStr(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func effectiveEndpoint(cfg *config.Config) string {
	if !cfg.Telemetry.Enabled {
		return ""
	}
	return cfg.Telemetry.Endpoint
}

// startChannels registers the config-enabled channel adapters and
// starts them, returning their Stop funcs for graceful shutdown.
func startChannels(ctx context.Context, cfg *config.Config, msgBus *bus.MessageBus) []func(context.Context) error {
	var stops []func(context.Context) error

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		ch, err := telegram.New(telegram.Config{Token: cfg.Channels.Telegram.Token}, msgBus)
		if err != nil {
			slog.Error("channel.telegram_init_failed", "error", err)
		} else if err := ch.Start(ctx); err != nil {
			slog.Error("channel.telegram_start_failed", "error", err)
		} else {
			stops = append(stops, ch.Stop)
			slog.Info("channel.telegram_started")
		}
	}

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		ch, err := discord.New(discord.Config{Token: cfg.Channels.Discord.Token}, msgBus)
		if err != nil {
			slog.Error("channel.discord_init_failed", "error", err)
		} else if err := ch.Start(ctx); err != nil {
			slog.Error("channel.discord_start_failed", "error", err)
		} else {
			stops = append(stops, ch.Stop)
			slog.Info("channel.discord_started")
		}
	}

	return stops
}
