// Package router implements spec §4.1's intake router: it turns an
// InboundMessage into either a control action (abort, keepalive
// response) or an orchestrator submission, applying the pre-
// orchestrator dedup/debounce stage and the pending-compaction
// redirect along the way. Grounded on the teacher's
// cmd/gateway_consumer.go consumeInboundMessages dispatch loop,
// generalized from "one hardcoded Telegram/Discord shape" to the
// spec's channel-agnostic InboundMessage.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/bus"
	"github.com/nextlevelbuilder/agentcore/internal/orchestrator"
	"github.com/nextlevelbuilder/agentcore/internal/scheduler"
	"github.com/nextlevelbuilder/agentcore/internal/sessions"
	"github.com/nextlevelbuilder/agentcore/internal/store"
)

// Outcome is spec §6's handle_inbound result: Ok | ControlHandled | Error.
type Outcome int

const (
	OutcomeSubmitted Outcome = iota
	OutcomeControlHandled
	OutcomeError
)

// ErrUnknownAgent is returned when an inbound message names an agent
// this router has no AgentResolver route for.
var ErrUnknownAgent = fmt.Errorf("router: could not resolve an agent for this message")

// AgentResolver maps an InboundMessage to the agent id that should own
// it (bindings, default agent, handoff routes — deployment-specific;
// the teacher's resolveAgentRoute plays this role).
type AgentResolver func(msg bus.InboundMessage) (agentID string, ok bool)

// Config controls session-key derivation and the dedupe/debounce stage
// (spec §4.2 session-level inputs, SPEC_FULL §C.3).
type Config struct {
	Scope      string // "per-peer" (default) or "global"
	DmScope    sessions.DmScope
	MainKey    string
	DedupeTTL  time.Duration
	DedupeMax  int
	DebounceMs time.Duration
}

// Router is spec §4.1's intake router.
type Router struct {
	cfg          Config
	orchestrator *orchestrator.Orchestrator
	scheduler    *scheduler.Scheduler
	store        store.Store
	resolveAgent AgentResolver

	dedupe    *bus.DedupeCache
	debouncer *bus.InboundDebouncer
}

// New constructs a Router. resolveAgent selects the owning agent for an
// inbound message; deps wires the orchestrator, scheduler, and
// persisted-state store it drives.
func New(cfg Config, resolveAgent AgentResolver, orch *orchestrator.Orchestrator, sched *scheduler.Scheduler, st store.Store) *Router {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 20 * time.Minute
	}
	if cfg.DedupeMax <= 0 {
		cfg.DedupeMax = 5000
	}
	if cfg.DebounceMs <= 0 {
		cfg.DebounceMs = time.Second
	}

	r := &Router{
		cfg:          cfg,
		orchestrator: orch,
		scheduler:    sched,
		store:        st,
		resolveAgent: resolveAgent,
		dedupe:       bus.NewDedupeCache(cfg.DedupeTTL, cfg.DedupeMax),
	}
	r.debouncer = bus.NewInboundDebouncer(cfg.DebounceMs, r.processNormalMessage)
	return r
}

func dedupeKey(msg bus.InboundMessage) string {
	return msg.Channel + "\x00" + msg.AccountID + "\x00" + msg.Peer.ID + "\x00" + msg.MessageID
}

// HandleInbound is spec §6's `handle_inbound(InboundMessage) → Ok |
// ControlHandled | Error`. Webhook retries are suppressed by the dedupe
// cache; everything else is pushed into the debounce window, whose
// flush callback does the real work (spec §4.1, SPEC_FULL §C.3).
func (r *Router) HandleInbound(msg bus.InboundMessage) (Outcome, error) {
	if msg.MessageID != "" && r.dedupe.IsDuplicate(dedupeKey(msg)) {
		slog.Debug("router.duplicate_suppressed", "channel", msg.Channel, "message_id", msg.MessageID)
		return OutcomeControlHandled, nil
	}

	if outcome, handled, err := r.handleControlCommand(msg); handled {
		return outcome, err
	}

	r.debouncer.Push(msg)
	return OutcomeSubmitted, nil
}

// controlCommandPrefixes recognizes the supplemented /stop and /stopall
// control commands (SPEC_FULL §C.1), handled synchronously rather than
// through the debounce window since they must not wait for a quiet
// period to take effect.
func (r *Router) handleControlCommand(msg bus.InboundMessage) (Outcome, bool, error) {
	text := strings.TrimSpace(msg.Text)
	switch {
	case text == "/stop":
		agentID, ok := r.resolveAgent(msg)
		if !ok {
			return OutcomeError, true, ErrUnknownAgent
		}
		key := r.sessionKeyFor(agentID, msg)
		r.Abort(key, "stop", ScopeOne)
		return OutcomeControlHandled, true, nil
	case text == "/stopall":
		agentID, ok := r.resolveAgent(msg)
		if !ok {
			return OutcomeError, true, ErrUnknownAgent
		}
		key := r.sessionKeyFor(agentID, msg)
		r.Abort(key, "stopall", ScopeAll)
		return OutcomeControlHandled, true, nil
	default:
		return 0, false, nil
	}
}

func (r *Router) sessionKeyFor(agentID string, msg bus.InboundMessage) string {
	return sessions.FromInbound(agentID, msg, r.cfg.Scope, r.cfg.DmScope, r.cfg.MainKey)
}

// processNormalMessage is the debouncer's flush callback: resolve the
// owning agent, derive the session key, check for a pending compaction
// marker, and submit (spec §4.1 handle_inbound normal path).
func (r *Router) processNormalMessage(msg bus.InboundMessage) {
	agentID, ok := r.resolveAgent(msg)
	if !ok {
		slog.Warn("router.unknown_agent", "channel", msg.Channel, "peer", msg.Peer.ID)
		return
	}

	sessionKey := r.sessionKeyFor(agentID, msg)
	ctx := context.Background()

	text := msg.Text
	isCompactionTurn := msg.Meta["auto_compaction"] == "true"
	if !isCompactionTurn && r.store != nil {
		if pc, err := r.store.GetPendingCompaction(ctx, sessionKey); err == nil && pc != nil {
			slog.Info("router.pending_compaction_redirect", "session", sessionKey, "reason", pc.Reason)
			text = compactionPromptFor(pc.Reason, msg.Text)
			if msg.Meta == nil {
				msg.Meta = map[string]string{}
			}
			msg.Meta["auto_compaction"] = "true"
			_ = r.store.ClearPendingCompaction(ctx, sessionKey)
		}
	}

	res := r.orchestrator.Submit(ctx, orchestrator.Request{
		AgentID:     agentID,
		SessionKey:  sessionKey,
		Channel:     msg.Channel,
		Text:        text,
		UserMsgID:   msg.MessageID,
		IsGroupPeer: msg.Peer.Kind == bus.PeerGroup,
		Meta:        msg.Meta,
	})
	if !res.OK {
		slog.Error("router.submit_failed", "session", sessionKey, "error", res.Err)
	}
}

// compactionPromptFor synthesizes the auto-compaction turn's prompt,
// asking the engine to summarize history before continuing with the
// user's original text (spec §4.4 completion pipeline step 1, Scenario F).
func compactionPromptFor(reason, originalText string) string {
	return fmt.Sprintf(
		"Context usage is high (%s). Summarize the conversation so far into a compact form, "+
			"then continue responding to the user's next message:\n\n%s", reason, originalText)
}

// Scope selects /stop vs /stopall semantics (SPEC_FULL §C.1).
type Scope int

const (
	ScopeOne Scope = iota
	ScopeAll
)

// Abort requests cancellation for sessionKey (spec §4.1 abort
// operation). ScopeAll drains every queued-and-active run for the
// session ("/stopall"); ScopeOne cancels only the currently active run,
// leaving anything queued behind it intact ("/stop").
func (r *Router) Abort(sessionKey, reason string, scope Scope) bool {
	slog.Info("router.abort", "session", sessionKey, "reason", reason, "scope_all", scope == ScopeAll)
	if scope == ScopeAll {
		return r.scheduler.CancelSession(sessionKey)
	}
	return r.scheduler.CancelOneSession(sessionKey)
}

// SendOpts selects session targeting for SendToAgent (spec §4.1
// "session selection supports latest-existing, force-new, or explicit key").
type SendOpts struct {
	SessionKey  string // explicit key, if set, wins outright
	ForceNew    string // sub-session suffix used to mint a fresh key
	Channel     string
	Meta        map[string]string
}

// SendToAgent is the programmatic submission surface spec §4.1 and §6
// expose for non-channel callers (cron, subagent delegation, CLI).
func (r *Router) SendToAgent(ctx context.Context, agentID, text string, opts SendOpts) orchestrator.SubmitResult {
	sessionKey := opts.SessionKey
	if sessionKey == "" {
		base := sessions.BuildMainKey(agentID)
		if opts.ForceNew != "" {
			sessionKey = sessions.WithSub(base, opts.ForceNew)
		} else {
			sessionKey = base
		}
	}

	channel := opts.Channel
	if channel == "" {
		channel = "programmatic"
	}

	return r.orchestrator.Submit(ctx, orchestrator.Request{
		AgentID:    agentID,
		SessionKey: sessionKey,
		Channel:    channel,
		Text:       text,
		Meta:       opts.Meta,
	})
}
