// Package orchestrator resolves per-request configuration (tool policy,
// model, engine, working directory, resume token) and hands the
// resulting Job to the scheduler, per spec §4.2. Resolution is pure
// except for the session-meta store read needed for the "session-
// stored" precedence tier; the side effects are the submission itself
// and the write of the resolved session meta back to the store.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentcore/internal/engine"
	"github.com/nextlevelbuilder/agentcore/internal/scheduler"
	"github.com/nextlevelbuilder/agentcore/internal/store"
)

// Profile is the agent-level configuration bundle spec §2 calls an
// "Agent": default model, default engine, default working directory,
// and the agent tier of the tool-policy merge.
type Profile struct {
	AgentID         string
	DefaultModel    string
	DefaultEngineID string
	DefaultCwd      string
	ToolPolicy      ToolPolicy
	// ChannelToolPolicy overrides ToolPolicy per channel id (spec §4.2
	// "channel-level" tier).
	ChannelToolPolicy map[string]ToolPolicy
}

// Request carries the inputs the orchestrator needs to resolve one Job,
// built by the intake router from an InboundMessage (or a programmatic
// send_to_agent call).
type Request struct {
	AgentID     string
	SessionKey  string
	Channel     string
	Text        string
	UserMsgID   string
	IsGroupPeer bool

	ModelOverride  string // request-tier model
	EngineOverride string // request-tier engine
	CwdOverride    string // request-tier cwd

	SessionToolPolicy ToolPolicy
	RuntimeToolPolicy ToolPolicy

	Mode scheduler.Mode
	Meta map[string]string
}

// SubmitResult mirrors spec §6's programmatic `submit(job)` response.
type SubmitResult struct {
	OK      bool
	RunID   string
	Outcome <-chan scheduler.Outcome
	Err     error
}

// Orchestrator resolves per-request configuration and enqueues the
// resulting scheduler.Job (spec §4.2).
type Orchestrator struct {
	Engines   *engine.Registry
	Scheduler *scheduler.Scheduler
	Store     store.Store
	Profiles  map[string]Profile

	// GroupMaxConcurrent is the per-session concurrency window used for
	// group-kind peers (SPEC_FULL §C.2's supplemented feature); DM peers
	// always get 1.
	GroupMaxConcurrent int
}

// ErrUnknownAgent is returned when Request.AgentID has no registered Profile.
type ErrUnknownAgent struct{ AgentID string }

func (e ErrUnknownAgent) Error() string {
	return fmt.Sprintf("orchestrator: unknown agent %q", e.AgentID)
}

// profileFor looks up req.AgentID, falling back to a zero Profile (pure
// defaults) only when no profiles are registered at all — an empty
// Profiles map means this deployment runs a single implicit agent.
func (o *Orchestrator) profileFor(agentID string) (Profile, error) {
	if len(o.Profiles) == 0 {
		return Profile{AgentID: agentID}, nil
	}
	p, ok := o.Profiles[agentID]
	if !ok {
		return Profile{}, ErrUnknownAgent{AgentID: agentID}
	}
	return p, nil
}

// Submit resolves req into a scheduler.Job and enqueues it (spec §4.2
// "Delivers a Job to scheduler.enqueue(session_key, job)", spec §6
// `submit(job)`).
func (o *Orchestrator) Submit(ctx context.Context, req Request) SubmitResult {
	profile, err := o.profileFor(req.AgentID)
	if err != nil {
		return SubmitResult{OK: false, Err: err}
	}

	channelPolicy := profile.ChannelToolPolicy[req.Channel]
	toolPolicy := MergeToolPolicy(profile.ToolPolicy, channelPolicy, req.SessionToolPolicy, req.RuntimeToolPolicy, req.IsGroupPeer)

	var sessionMeta *store.SessionMeta
	if o.Store != nil {
		sessionMeta, _ = o.Store.GetSessionMeta(ctx, req.SessionKey)
	}
	sessionModel, sessionEngine, sessionCwd := "", "", ""
	if sessionMeta != nil {
		sessionModel, sessionEngine, sessionCwd = sessionMeta.Model, sessionMeta.EngineID, sessionMeta.Cwd
	}

	model := ResolveModel(ModelSelection{
		Request:        req.ModelOverride,
		Meta:           req.Meta["model"],
		SessionStored:  sessionModel,
		ProfileDefault: profile.DefaultModel,
		SystemDefault:  "",
	})

	resumeEngineID, resumeToken := o.extractResume(req.Text)

	engineID := req.EngineOverride
	if sticky, ok := StickyEngineOverride(req.Text, o.Engines.IDs()); ok {
		engineID = sticky
	}
	defaultEngineID := o.Engines.DefaultID()
	resolvedEngine := ResolveEngine(EngineSelection{
		ResumeEngineID:   resumeEngineID,
		RequestEngineID:  engineID,
		ModelImpliedID:   "",
		ProfileDefaultID: firstNonEmpty(profile.DefaultEngineID, sessionEngine),
		SystemDefaultID:  defaultEngineID,
	})

	cwd := ResolveCwd(CwdSelection{
		Request:   req.CwdOverride,
		Session:   sessionCwd,
		Profile:   profile.DefaultCwd,
		CallerCwd: "",
	})

	adapter, ok := o.Engines.Get(resolvedEngine)
	if !ok {
		return SubmitResult{OK: false, Err: fmt.Errorf("orchestrator: engine %q not registered", resolvedEngine)}
	}

	var resume *scheduler.ResumeToken
	if resumeToken != nil {
		resume = &scheduler.ResumeToken{EngineID: resumeToken.EngineID, Value: resumeToken.Value}
	}

	runID := uuid.NewString()
	meta := cloneMeta(req.Meta)
	meta["run_id"] = runID
	meta["engine_id"] = adapter.ID()
	meta["tool_policy.bash"] = string(toolPolicy.Bash)
	meta["tool_policy.write"] = string(toolPolicy.Write)
	meta["tool_policy.process"] = string(toolPolicy.Process)

	job := scheduler.Job{
		SessionKey: req.SessionKey,
		Channel:    req.Channel,
		Text:       req.Text,
		UserMsgID:  req.UserMsgID,
		Resume:     resume,
		EngineHint: adapter.ID(),
		Model:      model,
		Cwd:        cwd,
		Meta:       meta,
	}

	maxConcurrent := 1
	if req.IsGroupPeer && o.GroupMaxConcurrent > 1 {
		maxConcurrent = o.GroupMaxConcurrent
	}
	mode := req.Mode
	if mode == "" {
		mode = scheduler.ModeCollect
	}

	out := o.Scheduler.ScheduleWithOpts(ctx, scheduler.LaneMain, job, scheduler.ScheduleOpts{
		MaxConcurrent: maxConcurrent,
		Mode:          mode,
	})

	if o.Store != nil {
		_ = o.Store.PutSessionMeta(ctx, store.SessionMeta{
			SessionKey:  req.SessionKey,
			EngineID:    adapter.ID(),
			Model:       model,
			Cwd:         cwd,
			LastChannel: req.Channel,
		})
	}

	return SubmitResult{OK: true, RunID: runID, Outcome: out}
}

// extractResume tries every registered engine's ExtractResume against
// text, returning the first match (spec §4.2 "Resume token: extracted
// from user text by each engine's extract_resume(text) pattern").
func (o *Orchestrator) extractResume(text string) (engineID string, token *engine.ResumeToken) {
	for _, id := range o.Engines.IDs() {
		adapter, ok := o.Engines.Get(id)
		if !ok {
			continue
		}
		if tok, found := adapter.ExtractResume(text); found {
			return tok.EngineID, tok
		}
	}
	return "", nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+4)
	for k, v := range m {
		out[k] = v
	}
	return out
}
