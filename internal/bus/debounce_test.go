package bus

import (
	"sync"
	"testing"
	"time"
)

func TestInboundDebouncerFlushesSingleMessageAfterWindow(t *testing.T) {
	var mu sync.Mutex
	var flushed []InboundMessage
	d := NewInboundDebouncer(10*time.Millisecond, func(m InboundMessage) {
		mu.Lock()
		flushed = append(flushed, m)
		mu.Unlock()
	})

	d.Push(InboundMessage{Channel: "telegram", Peer: Peer{ID: "p1"}, Sender: Sender{ID: "u1"}, Text: "hi"})

	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 1 || flushed[0].Text != "hi" {
		t.Fatalf("flushed = %v, want one message with text 'hi'", flushed)
	}
}

func TestInboundDebouncerMergesRapidFireMessages(t *testing.T) {
	var mu sync.Mutex
	var flushed []InboundMessage
	d := NewInboundDebouncer(30*time.Millisecond, func(m InboundMessage) {
		mu.Lock()
		flushed = append(flushed, m)
		mu.Unlock()
	})

	sender := Sender{ID: "u1"}
	peer := Peer{ID: "p1"}
	d.Push(InboundMessage{Channel: "telegram", Peer: peer, Sender: sender, Text: "first"})
	time.Sleep(5 * time.Millisecond)
	d.Push(InboundMessage{Channel: "telegram", Peer: peer, Sender: sender, Text: "second", MessageID: "m2"})

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 1 {
		t.Fatalf("flushed count = %d, want 1 merged flush", len(flushed))
	}
	want := "first\nsecond"
	if flushed[0].Text != want {
		t.Errorf("flushed text = %q, want %q", flushed[0].Text, want)
	}
	if flushed[0].MessageID != "m2" {
		t.Errorf("flushed MessageID = %q, want latest message id m2", flushed[0].MessageID)
	}
}

func TestInboundDebouncerKeepsDifferentSendersSeparate(t *testing.T) {
	var mu sync.Mutex
	var flushed []InboundMessage
	d := NewInboundDebouncer(10*time.Millisecond, func(m InboundMessage) {
		mu.Lock()
		flushed = append(flushed, m)
		mu.Unlock()
	})

	d.Push(InboundMessage{Channel: "telegram", Peer: Peer{ID: "p1"}, Sender: Sender{ID: "u1"}, Text: "a"})
	d.Push(InboundMessage{Channel: "telegram", Peer: Peer{ID: "p2"}, Sender: Sender{ID: "u2"}, Text: "b"})

	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 2 {
		t.Fatalf("flushed count = %d, want 2 independent flushes", len(flushed))
	}
}

func TestInboundDebouncerStopSuppressesPendingFlush(t *testing.T) {
	var mu sync.Mutex
	flushedCount := 0
	d := NewInboundDebouncer(10*time.Millisecond, func(m InboundMessage) {
		mu.Lock()
		flushedCount++
		mu.Unlock()
	})

	d.Push(InboundMessage{Channel: "telegram", Peer: Peer{ID: "p1"}, Sender: Sender{ID: "u1"}, Text: "a"})
	d.Stop()

	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if flushedCount != 0 {
		t.Errorf("flushedCount = %d after Stop, want 0", flushedCount)
	}
}
