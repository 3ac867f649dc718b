package scheduler

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

// ErrSuperseded is delivered to a queued followup's Outcome channel when
// a newer followup enqueue replaces it before it started (spec §4.3
// followup mode: "replaces any previous queued-but-not-started
// followup").
var ErrSuperseded = errors.New("scheduler: superseded by a newer followup")

// queuedItem is one FIFO entry: either a collect item (always appended)
// or the single followup slot (replaced in place on re-enqueue).
type queuedItem struct {
	ctx  context.Context
	job  Job
	mode Mode
	out  chan Outcome
}

// dispatched is one in-flight run on this worker.
type dispatched struct {
	id     string
	runner Runner
	cancel context.CancelFunc
}

// sessionWorker is the per-(lane, session) FIFO queue + operating mode
// described in spec §4.3.
type sessionWorker struct {
	sched         *Scheduler
	lane          Lane
	sessionKey    string
	maxConcurrent int

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []*queuedItem
	active     map[string]*dispatched
	order      []string // dispatch order, used to pick "the active run" for steer/interrupt
	nextID     int
	terminated bool
}

func newSessionWorker(s *Scheduler, lane Lane, sessionKey string, maxConcurrent int) *sessionWorker {
	w := &sessionWorker{
		sched:         s,
		lane:          lane,
		sessionKey:    sessionKey,
		maxConcurrent: maxConcurrent,
		active:        make(map[string]*dispatched),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// enqueue admits job under mode. Returns ok=false if the worker had
// already terminated (idle, removed from the scheduler's map); the
// caller must retry against a fresh worker in that case.
func (w *sessionWorker) enqueue(ctx context.Context, job Job, mode Mode) (chan Outcome, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.terminated {
		return nil, false
	}

	out := make(chan Outcome, 1)
	item := &queuedItem{ctx: ctx, job: job, mode: mode, out: out}

	switch mode {
	case ModeFollowup:
		w.replaceFollowupLocked(item)
	case ModeSteer:
		if w.steerActiveLocked(job.Text) {
			close(out)
			w.cond.Broadcast()
			return out, true
		}
		// Engine does not support steer (or no active run): degrade to
		// followup (spec §4.3).
		w.replaceFollowupLocked(item)
	case ModeSteerBacklog:
		if w.steerActiveLocked(backlogText(job.Text, w.queue)) {
			w.queue = nil
			close(out)
			w.cond.Broadcast()
			return out, true
		}
		w.replaceFollowupLocked(item)
	case ModeInterrupt:
		w.cancelActiveLockedAll("interrupt")
		w.replaceFollowupLocked(item)
	default: // ModeCollect
		w.queue = append(w.queue, item)
	}

	w.cond.Broadcast()
	return out, true
}

// replaceFollowupLocked appends item as the queue's trailing followup
// slot, superseding any existing not-yet-started followup entry.
// Caller holds w.mu.
func (w *sessionWorker) replaceFollowupLocked(item *queuedItem) {
	for i, q := range w.queue {
		if q.mode == ModeFollowup {
			q.out <- Outcome{Err: ErrSuperseded}
			close(q.out)
			w.queue[i] = item
			return
		}
	}
	w.queue = append(w.queue, item)
}

// steerActiveLocked forwards text into the most recently dispatched
// active run, if any, returning true if delivered. Caller holds w.mu.
func (w *sessionWorker) steerActiveLocked(text string) bool {
	if len(w.order) == 0 {
		return false
	}
	id := w.order[len(w.order)-1]
	d, ok := w.active[id]
	if !ok {
		return false
	}
	if err := d.runner.Steer(text); err != nil {
		return false
	}
	return true
}

func backlogText(steerText string, queue []*queuedItem) string {
	text := steerText
	for _, q := range queue {
		if q.mode == ModeCollect {
			text += "\n" + q.job.Text
		}
	}
	return text
}

// cancelActiveLockedAll cancels every in-flight dispatch. Caller holds w.mu.
func (w *sessionWorker) cancelActiveLockedAll(reason string) {
	for _, d := range w.active {
		d.runner.Cancel(reason)
	}
}

// cancelAll cancels every active run and drains the queue (the
// "/stopall" feature).
func (w *sessionWorker) cancelAll() {
	w.mu.Lock()
	w.cancelActiveLockedAll("stopall")
	for _, q := range w.queue {
		q.out <- Outcome{Err: errors.New("scheduler: session cancelled")}
		close(q.out)
	}
	w.queue = nil
	w.mu.Unlock()
	w.cond.Broadcast()
}

// cancelActive cancels only the single most-recently-dispatched active
// run (the "/stop" feature). Returns true if a run was active.
func (w *sessionWorker) cancelActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.order) == 0 {
		return false
	}
	id := w.order[len(w.order)-1]
	d, ok := w.active[id]
	if ok {
		d.runner.Cancel("stop")
	}
	return ok
}

// loop is the worker's dispatch goroutine: pops queued items in FIFO
// order and dispatches them, up to maxConcurrent concurrently, blocking
// on the scheduler's global semaphore for each (spec §4.3 worker loop).
func (w *sessionWorker) loop() {
	for {
		w.mu.Lock()

		for len(w.queue) > 0 && len(w.active) < w.maxConcurrent {
			item := w.queue[0]
			w.queue = w.queue[1:]
			w.dispatchLocked(item)
		}

		if len(w.queue) == 0 && len(w.active) == 0 {
			w.sched.mu.Lock()
			if len(w.queue) == 0 && len(w.active) == 0 {
				w.terminated = true
				delete(w.sched.workers, laneSessionKey{lane: w.lane, key: w.sessionKey})
				w.sched.mu.Unlock()
				w.mu.Unlock()
				return
			}
			w.sched.mu.Unlock()
		}

		w.cond.Wait()
		w.mu.Unlock()
	}
}

// dispatchLocked starts item's run in its own goroutine. Caller holds w.mu.
func (w *sessionWorker) dispatchLocked(item *queuedItem) {
	id := genID(&w.nextID)
	runCtx, cancel := context.WithCancel(item.ctx)
	runner := w.sched.factory(item.job)

	d := &dispatched{id: id, runner: runner, cancel: cancel}
	w.active[id] = d
	w.order = append(w.order, id)

	go func() {
		w.sched.globalSem <- struct{}{}
		defer func() { <-w.sched.globalSem }()

		result, err := waitWithKillTimeout(runCtx, runner, w.sched.killTimeout)

		w.mu.Lock()
		delete(w.active, id)
		for i, oid := range w.order {
			if oid == id {
				w.order = append(w.order[:i], w.order[i+1:]...)
				break
			}
		}
		w.mu.Unlock()
		cancel()
		w.cond.Broadcast()

		item.out <- Outcome{Result: result, Err: err}
		close(item.out)
	}()
}

// waitWithKillTimeout runs runner.Run, and if ctx is cancelled before it
// returns, gives it killTimeout to produce a real result before
// synthesizing a cancelled failure (spec §4.3 cancellation semantics).
func waitWithKillTimeout(ctx context.Context, runner Runner, killTimeout time.Duration) (*RunResult, error) {
	resultCh := make(chan struct {
		r *RunResult
		e error
	}, 1)

	go func() {
		r, e := runner.Run(ctx)
		resultCh <- struct {
			r *RunResult
			e error
		}{r, e}
	}()

	select {
	case res := <-resultCh:
		return res.r, res.e
	case <-ctx.Done():
		select {
		case res := <-resultCh:
			return res.r, res.e
		case <-time.After(killTimeout):
			return &RunResult{OK: false, Err: ctx.Err()}, nil
		}
	}
}

func genID(counter *int) string {
	*counter++
	return strconv.Itoa(*counter)
}
