package coalesce

import (
	"strings"
	"testing"
)

func TestToolStatusRendersRunningAction(t *testing.T) {
	cfg := DefaultToolStatusConfig()
	var got ToolStatusSnapshot
	ts := NewToolStatus(cfg, func(snap ToolStatusSnapshot) { got = snap })

	ts.Action("a1", "search", "find docs", "", PhaseStarted, false, false, "")

	if !strings.Contains(got.Rendered, "Tool calls:") {
		t.Fatalf("Rendered = %q, want header", got.Rendered)
	}
	if !strings.Contains(got.Rendered, "search(find docs) [running]") {
		t.Errorf("Rendered = %q, want running line for a1", got.Rendered)
	}
}

func TestToolStatusCompletedOkRendersOkStatus(t *testing.T) {
	cfg := DefaultToolStatusConfig()
	var got ToolStatusSnapshot
	ts := NewToolStatus(cfg, func(snap ToolStatusSnapshot) { got = snap })

	ts.Action("a1", "search", "find docs", "", PhaseStarted, false, false, "")
	ts.Action("a1", "search", "find docs", "", PhaseCompleted, true, true, "done")

	if !strings.Contains(got.Rendered, "search(find docs) [ok] done") {
		t.Errorf("Rendered = %q, want ok line with message", got.Rendered)
	}
}

func TestToolStatusCompletedNotOkRendersErrStatus(t *testing.T) {
	cfg := DefaultToolStatusConfig()
	var got ToolStatusSnapshot
	ts := NewToolStatus(cfg, func(snap ToolStatusSnapshot) { got = snap })

	ts.Action("a1", "search", "find docs", "", PhaseCompleted, false, true, "boom")

	if !strings.Contains(got.Rendered, "search(find docs) [err] boom") {
		t.Errorf("Rendered = %q, want err line with message", got.Rendered)
	}
}

func TestToolStatusCompletedWithoutOkFlagRendersErrStatus(t *testing.T) {
	cfg := DefaultToolStatusConfig()
	var got ToolStatusSnapshot
	ts := NewToolStatus(cfg, func(snap ToolStatusSnapshot) { got = snap })

	ts.Action("a1", "search", "find docs", "", PhaseCompleted, false, false, "")

	if !strings.Contains(got.Rendered, "[err]") {
		t.Errorf("Rendered = %q, want err status when ok flag unset", got.Rendered)
	}
}

func TestToolStatusRunningActionsRenderBeforeCompletedOnes(t *testing.T) {
	cfg := DefaultToolStatusConfig()
	var got ToolStatusSnapshot
	ts := NewToolStatus(cfg, func(snap ToolStatusSnapshot) { got = snap })

	ts.Action("a1", "search", "first", "", PhaseCompleted, true, true, "")
	ts.Action("a2", "search", "second", "", PhaseStarted, false, false, "")

	lines := strings.Split(strings.TrimPrefix(got.Rendered, "Tool calls:\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %v, want 2", lines)
	}
	if !strings.Contains(lines[0], "second") {
		t.Errorf("first rendered line = %q, want running action 'second' first", lines[0])
	}
	if !strings.Contains(lines[1], "first") {
		t.Errorf("second rendered line = %q, want completed action 'first' last", lines[1])
	}
}

func TestToolStatusCompletedActionsRenderInCompletionOrderNotInsertionOrder(t *testing.T) {
	cfg := DefaultToolStatusConfig()
	var got ToolStatusSnapshot
	ts := NewToolStatus(cfg, func(snap ToolStatusSnapshot) { got = snap })

	ts.Action("a1", "search", "first-started", "", PhaseStarted, false, false, "")
	ts.Action("a2", "search", "second-started", "", PhaseStarted, false, false, "")
	// a2 was inserted second but completes first.
	ts.Action("a2", "search", "second-started", "", PhaseCompleted, true, true, "")
	ts.Action("a1", "search", "first-started", "", PhaseCompleted, true, true, "")

	lines := strings.Split(strings.TrimPrefix(got.Rendered, "Tool calls:\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %v, want 2", lines)
	}
	if !strings.Contains(lines[0], "second-started") {
		t.Errorf("first rendered line = %q, want 'second-started' (completed first)", lines[0])
	}
	if !strings.Contains(lines[1], "first-started") {
		t.Errorf("second rendered line = %q, want 'first-started' (completed last)", lines[1])
	}
}

func TestToolStatusEvictsOldestPastMaxActions(t *testing.T) {
	cfg := ToolStatusConfig{MaxActions: 2, MsgTruncate: 140}
	var got ToolStatusSnapshot
	ts := NewToolStatus(cfg, func(snap ToolStatusSnapshot) { got = snap })

	ts.Action("a1", "k", "one", "", PhaseStarted, false, false, "")
	ts.Action("a2", "k", "two", "", PhaseStarted, false, false, "")
	ts.Action("a3", "k", "three", "", PhaseStarted, false, false, "")

	if strings.Contains(got.Rendered, "one") {
		t.Errorf("Rendered = %q, want oldest action 'one' evicted", got.Rendered)
	}
	if !strings.Contains(got.Rendered, "two") || !strings.Contains(got.Rendered, "three") {
		t.Errorf("Rendered = %q, want 'two' and 'three' still present", got.Rendered)
	}
}

func TestToolStatusTruncatesLongMessages(t *testing.T) {
	cfg := ToolStatusConfig{MaxActions: 40, MsgTruncate: 5}
	var got ToolStatusSnapshot
	ts := NewToolStatus(cfg, func(snap ToolStatusSnapshot) { got = snap })

	ts.Action("a1", "k", "t", "", PhaseCompleted, true, true, "abcdefghij")

	if !strings.Contains(got.Rendered, "abcde") {
		t.Errorf("Rendered = %q, want truncated message 'abcde'", got.Rendered)
	}
	if strings.Contains(got.Rendered, "abcdef") {
		t.Errorf("Rendered = %q, want message truncated at 5 chars", got.Rendered)
	}
}

func TestToolStatusFinalizeEmitsFinalAndStopsFurtherActions(t *testing.T) {
	cfg := DefaultToolStatusConfig()
	var got ToolStatusSnapshot
	ts := NewToolStatus(cfg, func(snap ToolStatusSnapshot) { got = snap })

	ts.Action("a1", "k", "t", "", PhaseStarted, false, false, "")
	ts.Finalize()

	if !got.Final {
		t.Error("Finalize snapshot Final = false, want true")
	}

	got = ToolStatusSnapshot{}
	ts.Action("a2", "k", "t2", "", PhaseStarted, false, false, "")
	if got.Rendered != "" {
		t.Errorf("Action after Finalize emitted %+v, want no-op", got)
	}
}

func TestToolStatusFinalizeIsIdempotent(t *testing.T) {
	cfg := DefaultToolStatusConfig()
	calls := 0
	ts := NewToolStatus(cfg, func(snap ToolStatusSnapshot) { calls++ })

	ts.Finalize()
	ts.Finalize()

	if calls != 1 {
		t.Errorf("emit called %d times across two Finalize calls, want 1", calls)
	}
}
