package channeladapter

import (
	"sync"
	"testing"

	"github.com/nextlevelbuilder/agentcore/internal/bus"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func (t *fakeTransport) Send(msg bus.OutboundMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
}

func (t *fakeTransport) last() bus.OutboundMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent[len(t.sent)-1]
}

func TestGenericEmitStreamOutputSendsText(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGeneric(tr)

	g.EmitStreamOutput("s1", "telegram", StreamSnapshot{Version: 1, FullText: "hello"})

	if len(tr.sent) != 1 || tr.sent[0].Text != "hello" || tr.sent[0].Channel != "telegram" {
		t.Errorf("sent = %+v, want one message with text 'hello'", tr.sent)
	}
}

func TestGenericEmitStreamOutputDropsStaleVersion(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGeneric(tr)

	g.EmitStreamOutput("s1", "telegram", StreamSnapshot{Version: 2, FullText: "newer"})
	g.EmitStreamOutput("s1", "telegram", StreamSnapshot{Version: 1, FullText: "stale"})

	if len(tr.sent) != 1 {
		t.Fatalf("sent = %v, want only the version-2 snapshot delivered", tr.sent)
	}
	if tr.sent[0].Text != "newer" {
		t.Errorf("sent text = %q, want %q", tr.sent[0].Text, "newer")
	}
}

func TestGenericEmitToolStatusSendsRenderedText(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGeneric(tr)

	g.EmitToolStatus("s1", "telegram", ToolStatusSnapshot{Rendered: "Tool calls:\nsearch(x) [ok]"})

	if len(tr.sent) != 1 || tr.sent[0].Text != "Tool calls:\nsearch(x) [ok]" {
		t.Errorf("sent = %+v, want rendered tool status", tr.sent)
	}
}

func TestGenericOnStartedSendsNothing(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGeneric(tr)

	g.OnStarted("s1", "telegram", map[string]string{"x": "y"})

	if len(tr.sent) != 0 {
		t.Errorf("sent = %v, want no message on OnStarted", tr.sent)
	}
}

func TestGenericOnCompletedSendsAnswerAndClearsPending(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGeneric(tr)
	g.EmitStreamOutput("s1", "telegram", StreamSnapshot{Version: 1, FullText: "partial"})

	g.OnCompleted("s1", "telegram", Outcome{OK: true, Answer: "final answer"})

	last := tr.last()
	if last.Text != "final answer" || !last.Final {
		t.Errorf("last sent = %+v, want final message with answer", last)
	}
	if len(g.pending) != 0 {
		t.Errorf("pending map = %v, want cleared after OnCompleted", g.pending)
	}
}

func TestGenericOnCompletedSendsErrorWithResumeHintOnFailure(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGeneric(tr)

	g.OnCompleted("s1", "telegram", Outcome{OK: false, Error: "boom", ResumeDisplay: "lemon:abc"})

	last := tr.last()
	if last.Text != "boom\n\nReply to retry: lemon:abc" {
		t.Errorf("last sent text = %q, want error with resume hint appended", last.Text)
	}
}
