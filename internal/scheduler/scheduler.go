// Package scheduler implements spec §4.3's two-level admission control:
// a per-session FIFO worker with queue-mode semantics, and a global
// concurrency semaphore bounding max_concurrent_runs. Authored fresh —
// the teacher's own internal/scheduler package was not retrieved into
// this pack, only its call-site contract (lane names, ScheduleWithOpts/
// Schedule, the Outcome channel, CancelSession/CancelOneSession) as used
// from cmd/gateway_consumer.go — so this package is grounded in that
// observed contract rather than in teacher source.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Mode is the queue mode attached per enqueue (spec §4.3).
type Mode string

const (
	ModeCollect      Mode = "collect"
	ModeFollowup     Mode = "followup"
	ModeSteer        Mode = "steer"
	ModeSteerBacklog Mode = "steer_backlog"
	ModeInterrupt    Mode = "interrupt"
)

// Lane groups jobs by concurrency pool, letting subagent/delegate
// traffic run alongside the main session lane without competing with it
// for the same per-session worker budget.
type Lane string

const (
	LaneMain     Lane = "main"
	LaneSubagent Lane = "subagent"
	LaneDelegate Lane = "delegate"
)

// Job is the submission record the orchestrator builds and hands to the
// scheduler (spec §3).
type Job struct {
	SessionKey string
	Channel    string
	Text       string
	UserMsgID  string
	Resume     *ResumeToken
	EngineHint string
	Model      string
	Cwd        string
	Meta       map[string]string
}

// ResumeToken mirrors engine.ResumeToken without importing the engine
// package, avoiding a scheduler → engine → (possible future) scheduler
// import cycle; RunFunc implementations convert as needed.
type ResumeToken struct {
	EngineID string
	Value    string
}

// RunResult is the outcome of one run process invocation.
type RunResult struct {
	OK         bool
	Answer     string
	Err        error
	ResumeDisplay string
}

// Outcome is delivered on the channel returned by Schedule/ScheduleWithOpts.
type Outcome struct {
	Result *RunResult
	Err    error
}

// Runner drives one run process to completion. The scheduler treats it
// as opaque beyond Run/Steer/Cancel; internal/runprocess supplies the
// real implementation (one Runner instance per dispatched Job).
type Runner interface {
	// Run blocks until the run terminates, returning its terminal result.
	Run(ctx context.Context) (*RunResult, error)
	// Steer injects text into the in-flight run. Returns
	// engine.ErrSteerUnsupported (or an equivalent) if the underlying
	// engine does not support steering; the scheduler degrades to
	// followup in that case (spec §4.3).
	Steer(text string) error
	// Cancel requests best-effort termination.
	Cancel(reason string)
}

// RunFactory constructs a fresh Runner for one Job. Called once per
// dispatch, immediately before Run.
type RunFactory func(job Job) Runner

// ScheduleOpts carries per-enqueue tuning, notably the per-session
// concurrency window (spec's supplemented "group vs DM concurrency"
// feature, SPEC_FULL §C.2).
type ScheduleOpts struct {
	MaxConcurrent int
	Mode          Mode
}

// Scheduler is the global concurrency gate plus per-session worker
// registry described in spec §4.3.
type Scheduler struct {
	factory RunFactory

	maxConcurrentRuns int
	killTimeout       time.Duration

	globalSem chan struct{}

	mu      sync.Mutex
	workers map[laneSessionKey]*sessionWorker
}

type laneSessionKey struct {
	lane Lane
	key  string
}

// New constructs a Scheduler bounded by maxConcurrentRuns (spec §6
// max_concurrent_runs, default 2), driving each admitted job through
// run. killTimeout bounds how long interrupt/cancel waits for a real
// Completed before the worker proceeds anyway (spec §4.3, default 2s).
func New(factory RunFactory, maxConcurrentRuns int, killTimeout time.Duration) *Scheduler {
	if maxConcurrentRuns <= 0 {
		maxConcurrentRuns = 2
	}
	if killTimeout <= 0 {
		killTimeout = 2 * time.Second
	}
	return &Scheduler{
		factory:           factory,
		maxConcurrentRuns: maxConcurrentRuns,
		killTimeout:       killTimeout,
		globalSem:         make(chan struct{}, maxConcurrentRuns),
		workers:           make(map[laneSessionKey]*sessionWorker),
	}
}

// Schedule enqueues job onto lane's per-session worker in ModeCollect,
// with a single-run concurrency window (MaxConcurrent=1).
func (s *Scheduler) Schedule(ctx context.Context, lane Lane, job Job) <-chan Outcome {
	return s.ScheduleWithOpts(ctx, lane, job, ScheduleOpts{MaxConcurrent: 1, Mode: ModeCollect})
}

// ScheduleWithOpts enqueues job onto lane's per-session worker under
// opts.Mode, creating the worker if it does not yet exist (spec §4.3
// enqueue operation).
func (s *Scheduler) ScheduleWithOpts(ctx context.Context, lane Lane, job Job, opts ScheduleOpts) <-chan Outcome {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.Mode == "" {
		opts.Mode = ModeCollect
	}

	for {
		w := s.workerFor(lane, job.SessionKey, opts.MaxConcurrent)
		if out, ok := w.enqueue(ctx, job, opts.Mode); ok {
			return out
		}
		// w terminated concurrently with this enqueue; retry against a
		// freshly created worker.
	}
}

func (s *Scheduler) workerFor(lane Lane, sessionKey string, maxConcurrent int) *sessionWorker {
	key := laneSessionKey{lane: lane, key: sessionKey}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[key]
	if !ok {
		w = newSessionWorker(s, lane, sessionKey, maxConcurrent)
		s.workers[key] = w
		go w.loop()
	}
	return w
}

// CancelSession cancels every in-flight and queued run for sessionKey
// across all lanes (the "/stopall" supplemented feature, SPEC_FULL §C.1).
// Returns true if any worker existed for the session.
func (s *Scheduler) CancelSession(sessionKey string) bool {
	found := false
	s.mu.Lock()
	var workers []*sessionWorker
	for key, w := range s.workers {
		if key.key == sessionKey {
			workers = append(workers, w)
		}
	}
	s.mu.Unlock()

	for _, w := range workers {
		w.cancelAll()
		found = true
	}
	return found
}

// CancelOneSession cancels only the single active run for sessionKey on
// the main lane, leaving queued jobs intact (the "/stop" supplemented
// feature, SPEC_FULL §C.1).
func (s *Scheduler) CancelOneSession(sessionKey string) bool {
	s.mu.Lock()
	w, ok := s.workers[laneSessionKey{lane: LaneMain, key: sessionKey}]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return w.cancelActive()
}
