// Package coalesce implements the two coalescers described in spec §4.6
// and §4.7: the stream coalescer, which turns a high-rate Delta stream
// into a bounded-rate sequence of cumulative snapshots, and the
// tool-status coalescer, which renders action lifecycle events into a
// single editable status block.
package coalesce

import (
	"strings"
	"sync"
	"time"
)

const ellipsisMarker = " …[truncated]… "

// StreamConfig holds the stream coalescer's tunables (spec §6).
type StreamConfig struct {
	MinChars      int
	IdleMs        int
	MaxLatencyMs  int
	MaxFullText   int
}

// DefaultStreamConfig returns spec §4.6's documented defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{MinChars: 48, IdleMs: 400, MaxLatencyMs: 1200, MaxFullText: 100_000}
}

// Snapshot is emitted to the channel adapter on every flush. Version is
// monotone-increasing per coalescer; FullText is the entire accumulated
// text (not a delta).
type Snapshot struct {
	Version  uint64
	FullText string
	Final    bool
}

// EmitFunc delivers a Snapshot to the channel adapter.
type EmitFunc func(Snapshot)

// Stream is the per-(session, channel) buffered text coalescer described
// in spec §4.6. One instance is created per in-flight run's use of a
// (session, channel) pair and released on run termination.
type Stream struct {
	cfg StreamConfig
	emit EmitFunc

	mu             sync.Mutex
	fullText       strings.Builder
	pendingLen     int
	lastAcceptedSeq uint64
	lastFlush      time.Time
	version        uint64
	finalized      bool

	idleTimer *time.Timer
	now       func() time.Time
}

// NewStream constructs a Stream with cfg's thresholds, delivering
// flushed snapshots to emit.
func NewStream(cfg StreamConfig, emit EmitFunc) *Stream {
	return &Stream{
		cfg:       cfg,
		emit:      emit,
		lastFlush: time.Now(),
		now:       time.Now,
	}
}

// Delta ingests one Delta(seq, text) event (spec §4.6 ingestion rule).
// Rejects silently if the coalescer is finalized or seq is not strictly
// greater than the last accepted sequence number (out-of-order or
// duplicate delta, spec §3 invariant / Scenario B).
func (s *Stream) Delta(seq uint64, text string) {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return
	}
	if seq <= s.lastAcceptedSeq {
		s.mu.Unlock()
		return
	}
	s.lastAcceptedSeq = seq

	s.appendFullText(text)
	s.pendingLen += len(text)

	shouldFlush := s.pendingLen >= s.cfg.MinChars || s.now().Sub(s.lastFlush).Milliseconds() >= int64(s.cfg.MaxLatencyMs)
	if shouldFlush {
		s.stopIdleTimerLocked()
		snap := s.flushLocked(false)
		s.mu.Unlock()
		s.emit(snap)
		return
	}

	s.resetIdleTimerLocked()
	s.mu.Unlock()
}

// appendFullText appends text to the accumulated buffer, truncating the
// middle with an ellipsis marker if the cap is exceeded (spec §3
// StreamBuffer, §4.6 ingestion rule). Caller holds s.mu.
func (s *Stream) appendFullText(text string) {
	combined := s.fullText.String() + text
	if len(combined) <= s.cfg.MaxFullText {
		s.fullText.Reset()
		s.fullText.WriteString(combined)
		return
	}
	keep := s.cfg.MaxFullText - len(ellipsisMarker)
	if keep < 0 {
		keep = 0
	}
	head := keep / 2
	tail := keep - head
	truncated := combined[:head] + ellipsisMarker + combined[len(combined)-tail:]
	s.fullText.Reset()
	s.fullText.WriteString(truncated)
}

// resetIdleTimerLocked (re)starts the idle-flush timer. Caller holds s.mu.
func (s *Stream) resetIdleTimerLocked() {
	s.stopIdleTimerLocked()
	s.idleTimer = time.AfterFunc(time.Duration(s.cfg.IdleMs)*time.Millisecond, func() {
		s.mu.Lock()
		if s.finalized || s.pendingLen == 0 {
			s.mu.Unlock()
			return
		}
		snap := s.flushLocked(false)
		s.mu.Unlock()
		s.emit(snap)
	})
}

func (s *Stream) stopIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

// flushLocked clears pending, bumps the version, and returns the
// snapshot to emit. Caller holds s.mu.
func (s *Stream) flushLocked(final bool) Snapshot {
	s.pendingLen = 0
	s.lastFlush = s.now()
	s.version++
	return Snapshot{Version: s.version, FullText: s.fullText.String(), Final: final}
}

// Finalize forces one final flush regardless of thresholds and marks the
// coalescer complete; further Delta calls become no-ops (spec §4.6).
func (s *Stream) Finalize() {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return
	}
	s.stopIdleTimerLocked()
	s.finalized = true
	snap := s.flushLocked(true)
	s.mu.Unlock()
	s.emit(snap)
}

// LastAcceptedSeq reports the last accepted delta sequence number, used
// by tests asserting the dedup rule.
func (s *Stream) LastAcceptedSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAcceptedSeq
}
