package coalesce

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ActionPhase mirrors the EngineEvent Action phase enum (spec §3).
type ActionPhase string

const (
	PhaseStarted   ActionPhase = "started"
	PhaseUpdated   ActionPhase = "updated"
	PhaseCompleted ActionPhase = "completed"
)

// ToolStatusConfig holds the tool-status coalescer's tunables (spec §6).
type ToolStatusConfig struct {
	MaxActions   int
	MsgTruncate  int
}

// DefaultToolStatusConfig returns spec §4.7's documented defaults.
func DefaultToolStatusConfig() ToolStatusConfig {
	return ToolStatusConfig{MaxActions: 40, MsgTruncate: 140}
}

// actionRecord is the internal per-action bookkeeping spec §3 calls
// ActionRecord: {id, kind, title, phase, ok, last message, last update
// time, insertion order}.
type actionRecord struct {
	id        string
	kind      string
	title     string
	phase     ActionPhase
	ok        bool
	hasOK     bool
	message   string
	updatedAt time.Time
	order     int
}

// ToolStatusSnapshot is emitted to the channel adapter on every change.
type ToolStatusSnapshot struct {
	Version  uint64
	Rendered string
	Final    bool
}

// ToolStatus is the per-(session, channel) action-lifecycle aggregator
// described in spec §4.7.
type ToolStatus struct {
	cfg  ToolStatusConfig
	emit EmitToolStatusFunc

	mu        sync.Mutex
	records   map[string]*actionRecord
	order     []string // insertion order, oldest first
	nextOrder int
	version   uint64
	finalized bool
}

// EmitToolStatusFunc delivers a ToolStatusSnapshot to the channel adapter.
type EmitToolStatusFunc func(ToolStatusSnapshot)

// NewToolStatus constructs a ToolStatus coalescer with cfg's limits.
func NewToolStatus(cfg ToolStatusConfig, emit EmitToolStatusFunc) *ToolStatus {
	return &ToolStatus{
		cfg:     cfg,
		emit:    emit,
		records: make(map[string]*actionRecord),
	}
}

// Action ingests one Action(id, kind, title, detail, phase, ok?, msg?)
// event (spec §4.7 ingestion): upserts the record, updates phase, and on
// completion stores ok/msg, then triggers a re-render.
func (t *ToolStatus) Action(id, kind, title, detail string, phase ActionPhase, ok bool, hasOK bool, msg string) {
	t.mu.Lock()
	if t.finalized {
		t.mu.Unlock()
		return
	}

	rec, exists := t.records[id]
	if !exists {
		rec = &actionRecord{id: id, order: t.nextOrder}
		t.nextOrder++
		t.records[id] = rec
		t.order = append(t.order, id)
		t.evictOldestLocked()
	}

	rec.kind = kind
	rec.title = title
	rec.phase = phase
	if hasOK {
		rec.ok = ok
		rec.hasOK = true
	}
	if msg != "" {
		rec.message = truncate(msg, t.cfg.MsgTruncate)
	}
	rec.updatedAt = time.Now()

	snap := t.renderLocked(false)
	t.mu.Unlock()
	t.emit(snap)
}

// evictOldestLocked drops the oldest action once the bounded collection
// (spec §3: 40 most recent) overflows. Caller holds t.mu.
func (t *ToolStatus) evictOldestLocked() {
	for len(t.order) > t.cfg.MaxActions {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.records, oldest)
	}
}

// renderLocked builds the "Tool calls:" block: running actions first in
// insertion order, then completed actions in completion order (spec
// §4.7 Render). Caller holds t.mu.
func (t *ToolStatus) renderLocked(final bool) ToolStatusSnapshot {
	var running, completed []*actionRecord
	for _, id := range t.order {
		rec := t.records[id]
		if rec.phase == PhaseCompleted {
			completed = append(completed, rec)
		} else {
			running = append(running, rec)
		}
	}

	sort.Slice(completed, func(i, j int) bool { return completed[i].updatedAt.Before(completed[j].updatedAt) })

	var b strings.Builder
	b.WriteString("Tool calls:")
	for _, rec := range append(running, completed...) {
		b.WriteString("\n")
		b.WriteString(renderLine(rec))
	}

	t.version++
	return ToolStatusSnapshot{Version: t.version, Rendered: b.String(), Final: final}
}

func renderLine(rec *actionRecord) string {
	status := "running"
	if rec.phase == PhaseCompleted {
		if rec.hasOK && rec.ok {
			status = "ok"
		} else {
			status = "err"
		}
	}
	line := fmt.Sprintf("%s(%s) [%s]", rec.kind, rec.title, status)
	if rec.message != "" {
		line += " " + rec.message
	}
	return line
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// Finalize marks the coalescer complete and emits one final render
// (spec §4.7 Finalization).
func (t *ToolStatus) Finalize() {
	t.mu.Lock()
	if t.finalized {
		t.mu.Unlock()
		return
	}
	t.finalized = true
	snap := t.renderLocked(true)
	t.mu.Unlock()
	t.emit(snap)
}
