package coalesce

import (
	"strings"
	"testing"
	"time"
)

func TestStreamFlushesImmediatelyOnceMinCharsReached(t *testing.T) {
	cfg := StreamConfig{MinChars: 5, IdleMs: 100000, MaxLatencyMs: 100000, MaxFullText: 100000}
	var got Snapshot
	s := NewStream(cfg, func(snap Snapshot) { got = snap })

	s.Delta(1, "hello")

	if got.FullText != "hello" {
		t.Errorf("FullText = %q, want %q", got.FullText, "hello")
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	if got.Final {
		t.Error("Final = true on a threshold flush, want false")
	}
}

func TestStreamFlushesOnceMaxLatencyElapsedSinceLastFlush(t *testing.T) {
	cfg := StreamConfig{MinChars: 1000, IdleMs: 100000, MaxLatencyMs: 10, MaxFullText: 100000}
	var got Snapshot
	s := NewStream(cfg, func(snap Snapshot) { got = snap })

	s.Delta(1, "a")
	if got.FullText != "" {
		t.Fatalf("unexpected flush before threshold or latency: %+v", got)
	}

	time.Sleep(15 * time.Millisecond)
	s.Delta(2, "b")

	if got.FullText != "ab" {
		t.Errorf("FullText = %q, want %q", got.FullText, "ab")
	}
}

func TestStreamFlushesAfterIdleWindow(t *testing.T) {
	cfg := StreamConfig{MinChars: 1000, IdleMs: 10, MaxLatencyMs: 100000, MaxFullText: 100000}
	ch := make(chan Snapshot, 1)
	s := NewStream(cfg, func(snap Snapshot) { ch <- snap })

	s.Delta(1, "hi")

	select {
	case snap := <-ch:
		if snap.FullText != "hi" {
			t.Errorf("FullText = %q, want %q", snap.FullText, "hi")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("idle flush did not fire")
	}
}

func TestStreamRejectsOutOfOrderOrDuplicateSeq(t *testing.T) {
	cfg := DefaultStreamConfig()
	var flushes int
	s := NewStream(cfg, func(snap Snapshot) { flushes++ })

	s.Delta(5, "a")
	s.Delta(5, "b")
	s.Delta(3, "c")

	if s.LastAcceptedSeq() != 5 {
		t.Errorf("LastAcceptedSeq() = %d, want 5", s.LastAcceptedSeq())
	}
}

func TestStreamTruncatesMiddleOnceMaxFullTextExceeded(t *testing.T) {
	cfg := StreamConfig{MinChars: 1, IdleMs: 100000, MaxLatencyMs: 100000, MaxFullText: 20}
	var got Snapshot
	s := NewStream(cfg, func(snap Snapshot) { got = snap })

	s.Delta(1, strings.Repeat("x", 30))

	if len(got.FullText) > 20 {
		t.Errorf("FullText length = %d, want <= 20", len(got.FullText))
	}
	if !strings.Contains(got.FullText, ellipsisMarker) {
		t.Errorf("FullText = %q, want ellipsis marker present", got.FullText)
	}
}

func TestStreamFinalizeEmitsFinalSnapshotAndStopsFurtherDeltas(t *testing.T) {
	cfg := StreamConfig{MinChars: 1000, IdleMs: 100000, MaxLatencyMs: 100000, MaxFullText: 100000}
	var got Snapshot
	s := NewStream(cfg, func(snap Snapshot) { got = snap })

	s.Delta(1, "partial")
	s.Finalize()

	if !got.Final {
		t.Error("Finalize snapshot Final = false, want true")
	}
	if got.FullText != "partial" {
		t.Errorf("FullText = %q, want %q", got.FullText, "partial")
	}

	got = Snapshot{}
	s.Delta(2, "more")
	if got.FullText != "" {
		t.Errorf("Delta after Finalize emitted %+v, want no-op", got)
	}
}

func TestStreamFinalizeIsIdempotent(t *testing.T) {
	cfg := DefaultStreamConfig()
	calls := 0
	s := NewStream(cfg, func(snap Snapshot) { calls++ })

	s.Finalize()
	s.Finalize()

	if calls != 1 {
		t.Errorf("emit called %d times across two Finalize calls, want 1", calls)
	}
}
