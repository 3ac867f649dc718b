package runprocess

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/channeladapter"
	"github.com/nextlevelbuilder/agentcore/internal/engine"
	"github.com/nextlevelbuilder/agentcore/internal/scheduler"
	"github.com/nextlevelbuilder/agentcore/internal/store"
)

// completionPipeline runs spec §4.4's six completion steps on the
// terminal engine event and returns the scheduler-visible result.
func (p *Process) completionPipeline(ctx context.Context, final engine.Event) *scheduler.RunResult {
	p.maybeScheduleCompaction(ctx, final)

	final = p.maybeRetry(ctx, final)

	p.stream.Finalize()
	p.toolStatus.Finalize()

	outcome := channeladapter.Outcome{OK: final.OK, Answer: final.Answer}
	if !final.OK {
		if final.Err != nil {
			outcome.Error = final.Err.Error()
		} else {
			outcome.Error = "run failed"
		}
		if final.Resume != nil {
			outcome.ResumeDisplay = p.engineAdapter.FormatResume(*final.Resume)
		}
	}
	p.channelAdp.OnCompleted(p.sessionKey, p.channel, outcome)

	return &scheduler.RunResult{
		OK:            final.OK,
		Answer:        final.Answer,
		Err:           final.Err,
		ResumeDisplay: outcome.ResumeDisplay,
	}
}

// maybeScheduleCompaction checks the completed run's token usage
// against the configured ratio and, if crossed, writes a pending-
// compaction marker so the next turn runs a compaction pass first
// (spec §4.4 step 1). Never blocks the current completion.
func (p *Process) maybeScheduleCompaction(ctx context.Context, final engine.Event) {
	if p.deps.Store == nil {
		return
	}

	triggered := isContextOverflowError(final.Err)
	if !triggered && p.deps.Config.ContextLimit > 0 {
		used := final.Usage.InputTokens + final.Usage.OutputTokens + final.Usage.CachedTokens
		if used > 0 {
			ratio := float64(used) / float64(p.deps.Config.ContextLimit)
			triggered = ratio >= p.deps.Config.CompactionRatio
		}
	}
	if !triggered {
		return
	}

	now := time.Now()
	err := p.deps.Store.SetPendingCompaction(ctx, store.PendingCompaction{
		SessionKey: p.sessionKey,
		Reason:     "context_ratio",
		CreatedAt:  now,
		ExpiresAt:  now.Add(p.deps.Config.CompactionPendingTTL),
	})
	if err != nil {
		slog.Warn("runprocess: failed to record pending compaction", "session", p.sessionKey, "error", err)
	}
}

// contextOverflowErrorMarkers are substrings that identify an engine
// error as a context-window overflow rather than a generic failure,
// triggering a pending-compaction marker regardless of the usage ratio.
var contextOverflowErrorMarkers = []string{
	"context length exceeded",
	"context window",
	"maximum context",
	"too many tokens",
	"prompt is too long",
}

func isContextOverflowError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range contextOverflowErrorMarkers {
		if strings.Contains(msg, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// transientAssistantErrorMarkers are substrings that identify a
// retriable upstream failure (overloaded, rate limited, connection
// reset) as opposed to a genuine answer the user should see.
var transientAssistantErrorMarkers = []string{
	"overloaded",
	"rate limit",
	"connection reset",
	"EOF",
	"temporarily unavailable",
	"assistant error",
}

func isTransientAssistantError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientAssistantErrorMarkers {
		if strings.Contains(msg, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// maybeRetry resubmits the job exactly once when the first attempt
// failed with a transient, answer-less error, without re-delivering
// OnStarted or a premature empty answer (spec §4.4 step 2). Returns
// the event that should drive the rest of the pipeline.
func (p *Process) maybeRetry(ctx context.Context, final engine.Event) engine.Event {
	if p.attempt != 0 {
		return final
	}
	if final.OK || final.Answer != "" {
		return final
	}
	if !isTransientAssistantError(final.Err) {
		return final
	}
	if p.deps.Config.RetryMaxAttempts < 1 {
		return final
	}

	p.attempt++
	slog.Info("runprocess: retrying after transient error", "run_id", p.runID, "session", p.sessionKey, "error", final.Err)

	events := make(chan engine.Event, 64)
	sink := engine.SinkFunc(func(e engine.Event) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	})

	handle, err := p.engineAdapter.StartRun(ctx, p.jobText, p.resume, p.opts, sink)
	if err != nil {
		return final // keep the original failure
	}
	p.mu.Lock()
	p.runHandle = handle
	p.mu.Unlock()

	return p.pump(ctx, events, true)
}
