package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/registry"
	"github.com/nextlevelbuilder/agentcore/internal/store"
)

type fakeSweepStore struct {
	store.Store
	pending map[string]*store.PendingCompaction
	cleared []string
}

func (s *fakeSweepStore) GetPendingCompaction(ctx context.Context, sessionKey string) (*store.PendingCompaction, error) {
	return s.pending[sessionKey], nil
}
func (s *fakeSweepStore) ClearPendingCompaction(ctx context.Context, sessionKey string) error {
	s.cleared = append(s.cleared, sessionKey)
	delete(s.pending, sessionKey)
	return nil
}

type fakeHandle struct {
	runID, sessionKey string
}

func (h fakeHandle) RunID() string        { return h.runID }
func (h fakeHandle) SessionKey() string    { return h.sessionKey }
func (h fakeHandle) Cancel(reason string) {}

func TestSweepOnceExpiresStalePendingCompaction(t *testing.T) {
	runs := registry.NewRunRegistry()
	runs.Register(fakeHandle{runID: "r1", sessionKey: "agent:bot:main"})

	now := time.Now()
	st := &fakeSweepStore{pending: map[string]*store.PendingCompaction{
		"agent:bot:main": {SessionKey: "agent:bot:main", CreatedAt: now.Add(-13 * time.Hour)},
	}}

	sweeper := NewSweeper("*/5 * * * *", 12*time.Hour, st, runs, nil)
	sweeper.sweepOnce(context.Background(), now)

	if len(st.cleared) != 1 || st.cleared[0] != "agent:bot:main" {
		t.Errorf("cleared = %v, want [agent:bot:main]", st.cleared)
	}
}

func TestSweepOnceKeepsFreshPendingCompaction(t *testing.T) {
	runs := registry.NewRunRegistry()
	runs.Register(fakeHandle{runID: "r1", sessionKey: "agent:bot:main"})

	now := time.Now()
	st := &fakeSweepStore{pending: map[string]*store.PendingCompaction{
		"agent:bot:main": {SessionKey: "agent:bot:main", CreatedAt: now.Add(-1 * time.Hour)},
	}}

	sweeper := NewSweeper("*/5 * * * *", 12*time.Hour, st, runs, nil)
	sweeper.sweepOnce(context.Background(), now)

	if len(st.cleared) != 0 {
		t.Errorf("cleared = %v, want none", st.cleared)
	}
}

func TestReapOrphanedRunsRemovesEntryWithNoLiveWorker(t *testing.T) {
	runs := registry.NewRunRegistry()
	runs.Register(fakeHandle{runID: "r1", sessionKey: "agent:bot:main"})

	sched := New(func(job Job) Runner { return nil }, 2, 2*time.Second)
	sweeper := NewSweeper("*/5 * * * *", 12*time.Hour, nil, runs, sched)

	sweeper.reapOrphanedRuns()

	if _, ok := runs.BySessionKey("agent:bot:main"); ok {
		t.Error("orphaned run still registered after reap")
	}
}

func TestReapOrphanedRunsKeepsEntryWithLiveWorker(t *testing.T) {
	runs := registry.NewRunRegistry()
	runs.Register(fakeHandle{runID: "r1", sessionKey: "agent:bot:main"})

	sched := New(func(job Job) Runner { return nil }, 2, 2*time.Second)
	// Register a worker directly (without starting its dispatch loop) so
	// it doesn't self-terminate before the reap check runs.
	sched.mu.Lock()
	sched.workers[laneSessionKey{lane: LaneMain, key: "agent:bot:main"}] = newSessionWorker(sched, LaneMain, "agent:bot:main", 1)
	sched.mu.Unlock()

	sweeper := NewSweeper("*/5 * * * *", 12*time.Hour, nil, runs, sched)
	sweeper.reapOrphanedRuns()

	if _, ok := runs.BySessionKey("agent:bot:main"); !ok {
		t.Error("live-worker run was reaped, want kept")
	}
}
