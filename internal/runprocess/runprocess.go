// Package runprocess implements spec §4.4's run lifecycle state machine:
// one process owns one in-flight run end-to-end, bridging engine events
// to the channel adapter's two coalescers, and running the watchdog,
// retry, and compaction-trigger logic described in the completion
// pipeline. Grounded on the teacher's agent loop (internal/agent/loop.go)
// Run()/runLoop() shape, generalized from "one hardcoded provider" to
// "any registered engine adapter".
package runprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentcore/internal/channeladapter"
	"github.com/nextlevelbuilder/agentcore/internal/coalesce"
	"github.com/nextlevelbuilder/agentcore/internal/engine"
	"github.com/nextlevelbuilder/agentcore/internal/registry"
	"github.com/nextlevelbuilder/agentcore/internal/scheduler"
	"github.com/nextlevelbuilder/agentcore/internal/store"
)

// State enumerates the run process state machine (spec §4.4).
type State int

const (
	StateCreated State = iota
	StateRegistered
	StateSubmitted
	StateStreaming
	StateCompleting
	StateTerminated
	StateAborted
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRegistered:
		return "registered"
	case StateSubmitted:
		return "submitted"
	case StateStreaming:
		return "streaming"
	case StateCompleting:
		return "completing"
	case StateTerminated:
		return "terminated"
	case StateAborted:
		return "aborted"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Config holds the per-run tunables from spec §6's configuration
// surface that runprocess itself consumes.
type Config struct {
	WatchdogIdleLimit     time.Duration // default 2h
	WatchdogConfirmTimeout time.Duration // default 5m
	CompactionRatio       float64       // default 0.9
	CompactionPendingTTL  time.Duration // default 12h
	RetryMaxAttempts      int           // default 1
	EngineKillTimeout     time.Duration // default 2s
	ContextLimit          int           // denominator for compaction ratio

	Stream     coalesce.StreamConfig
	ToolStatus coalesce.ToolStatusConfig
}

// DefaultConfig returns spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		WatchdogIdleLimit:      2 * time.Hour,
		WatchdogConfirmTimeout: 5 * time.Minute,
		CompactionRatio:        0.9,
		CompactionPendingTTL:   12 * time.Hour,
		RetryMaxAttempts:       1,
		EngineKillTimeout:      2 * time.Second,
		ContextLimit:           200_000,
		Stream:                 coalesce.DefaultStreamConfig(),
		ToolStatus:             coalesce.DefaultToolStatusConfig(),
	}
}

// Deps bundles the collaborators a Process needs: the engine registry,
// coalescer registries (shared process-wide, keyed by session+channel),
// the channel adapter resolved for this run's channel, and the
// persisted-state store for compaction markers.
type Deps struct {
	Engines     *engine.Registry
	Streams     *registry.Keyed[registry.CoalescerKey, *coalesce.Stream]
	ToolStatus  *registry.Keyed[registry.CoalescerKey, *coalesce.ToolStatus]
	Runs        *registry.RunRegistry
	Store       store.Store
	Config      Config
}

// Process owns one run's lifecycle. It implements scheduler.Runner so
// the scheduler can drive it directly.
type Process struct {
	deps Deps

	runID      string
	sessionKey string
	channel    string
	engineID   string

	engineAdapter engine.Adapter
	jobText       string
	resume        *engine.ResumeToken
	opts          engine.RunOpts
	attempt       int

	stream     *coalesce.Stream
	toolStatus *coalesce.ToolStatus
	channelAdp channeladapter.Adapter

	mu          sync.Mutex
	state       State
	lastActivity time.Time
	runHandle   engine.RunHandle

	watchdogTimer *time.Timer
	cancelOnce    sync.Once
	cancelFunc    context.CancelFunc

	completedCh chan engine.Event
}

// New constructs a Process for one dispatch of job on engineAdapter,
// delivering output through channelAdp. Registration happens inside
// Run, matching spec §4.4's "on entry: register" ordering. presetRunID,
// if non-empty, is used as the run id instead of generating a fresh one
// (the orchestrator preassigns it so submit() can return a run id to the
// caller before the scheduler actually dispatches the job, spec §6).
func New(deps Deps, presetRunID, sessionKey, channel string, engineAdapter engine.Adapter, jobText string, resume *engine.ResumeToken, opts engine.RunOpts, channelAdp channeladapter.Adapter) *Process {
	runID := presetRunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Process{
		deps:          deps,
		runID:         runID,
		sessionKey:    sessionKey,
		channel:       channel,
		engineID:      engineAdapter.ID(),
		engineAdapter: engineAdapter,
		jobText:       jobText,
		resume:        resume,
		opts:          opts,
		channelAdp:    channelAdp,
		state:         StateCreated,
		completedCh:   make(chan engine.Event, 1),
	}
}

// RunID implements registry.RunHandle.
func (p *Process) RunID() string { return p.runID }

// SessionKey implements registry.RunHandle.
func (p *Process) SessionKey() string { return p.sessionKey }

// Cancel implements both registry.RunHandle and scheduler.Runner: it
// forwards cancellation to the engine adapter (spec §4.4 "On external
// cancel").
func (p *Process) Cancel(reason string) {
	p.mu.Lock()
	handle := p.runHandle
	cancelFunc := p.cancelFunc
	p.mu.Unlock()

	if cancelFunc != nil {
		p.cancelOnce.Do(func() {
			slog.Info("run.cancel", "run_id", p.runID, "session", p.sessionKey, "reason", reason)
		})
		cancelFunc()
	}
	if handle != nil {
		p.engineAdapter.Cancel(handle, reason)
	}
}

// Steer implements scheduler.Runner.
func (p *Process) Steer(text string) error {
	if !p.engineAdapter.SupportsSteer() {
		return engine.ErrSteerUnsupported
	}
	p.mu.Lock()
	handle := p.runHandle
	p.mu.Unlock()
	if handle == nil {
		return fmt.Errorf("runprocess: no active handle to steer")
	}
	return p.engineAdapter.Steer(handle, text)
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run implements scheduler.Runner: it drives the full lifecycle
// (spec §4.4 state machine) and returns the terminal scheduler.RunResult.
func (p *Process) Run(ctx context.Context) (*scheduler.RunResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancelFunc = cancel
	p.mu.Unlock()
	defer cancel()

	if err := p.deps.Runs.Register(p); err != nil {
		return &scheduler.RunResult{OK: false, Err: err}, nil
	}
	p.setState(StateRegistered)
	defer p.deps.Runs.Unregister(p)

	key := registry.CoalescerKey{SessionKey: p.sessionKey, Channel: p.channel}
	p.stream = p.deps.Streams.GetOrCreate(key, func() *coalesce.Stream {
		return coalesce.NewStream(p.deps.Config.Stream, func(snap coalesce.Snapshot) {
			p.channelAdp.EmitStreamOutput(p.sessionKey, p.channel, channeladapter.StreamSnapshot{Version: snap.Version, FullText: snap.FullText})
		})
	})
	p.toolStatus = p.deps.ToolStatus.GetOrCreate(key, func() *coalesce.ToolStatus {
		return coalesce.NewToolStatus(p.deps.Config.ToolStatus, func(snap coalesce.ToolStatusSnapshot) {
			p.channelAdp.EmitToolStatus(p.sessionKey, p.channel, channeladapter.ToolStatusSnapshot{Version: snap.Version, Rendered: snap.Rendered})
		})
	})

	p.setState(StateSubmitted)
	p.resetWatchdog(runCtx)
	defer p.stopWatchdog()

	events := make(chan engine.Event, 64)
	sink := engine.SinkFunc(func(e engine.Event) {
		select {
		case events <- e:
		case <-runCtx.Done():
		}
	})

	handle, err := p.engineAdapter.StartRun(runCtx, p.jobText, p.resume, p.opts, sink)
	if err != nil {
		// Engine-adapter start failure: synthesize Completed{ok=false}
		// (spec §4.3 / §7).
		p.channelAdp.OnCompleted(p.sessionKey, p.channel, channeladapter.Outcome{OK: false, Error: err.Error()})
		return &scheduler.RunResult{OK: false, Err: err}, nil
	}
	p.mu.Lock()
	p.runHandle = handle
	p.mu.Unlock()

	result := p.pump(runCtx, events, false)
	p.setState(StateCompleting)
	final := p.completionPipeline(runCtx, result)
	p.setState(StateTerminated)
	return final, nil
}

// pump reads events until exactly one Completed arrives, or the run
// context is cancelled (in which case it waits EngineKillTimeout for a
// real Completed before synthesizing one itself).
func (p *Process) pump(ctx context.Context, events chan engine.Event, suppressStarted bool) engine.Event {
	started := suppressStarted
	for {
		select {
		case ev := <-events:
			p.touchActivity()
			if ev.Kind == engine.EventDelta || ev.Kind == engine.EventAction {
				p.resetWatchdog(ctx)
			}
			switch ev.Kind {
			case engine.EventStarted:
				if !started {
					started = true
					p.setState(StateStreaming)
					p.channelAdp.OnStarted(p.sessionKey, p.channel, ev.Meta)
				}
			case engine.EventDelta:
				p.stream.Delta(ev.Seq, ev.Text)
			case engine.EventAction:
				p.toolStatus.Action(ev.ActionID, string(ev.ActionKind), ev.ActionTitle, ev.ActionDetail, coalesce.ActionPhase(ev.ActionPhase), ev.ActionOK, ev.HasActionOK, ev.ActionMsg)
			case engine.EventCompleted:
				return ev
			}
		case <-ctx.Done():
			select {
			case ev := <-events:
				if ev.Kind == engine.EventCompleted {
					return ev
				}
			case <-time.After(p.deps.Config.EngineKillTimeout):
			}
			return engine.Event{Kind: engine.EventCompleted, OK: false, Err: errors.New("cancelled")}
		}
	}
}

func (p *Process) touchActivity() {
	p.mu.Lock()
	p.lastActivity = time.Now()
	p.mu.Unlock()
}
