package bus

import (
	"sync"
	"time"
)

// InboundDebouncer merges rapid-fire inbound messages from the same
// sender within a short window into a single flushed delivery (newline-
// joined), calling flush once per quiet period. Grounded on the
// teacher's bus.NewInboundDebouncer.
type InboundDebouncer struct {
	window time.Duration
	flush  func(InboundMessage)

	mu      sync.Mutex
	pending map[string]*pendingEntry
}

type pendingEntry struct {
	msg   InboundMessage
	timer *time.Timer
}

func debounceKey(msg InboundMessage) string {
	return msg.Channel + "\x00" + msg.AccountID + "\x00" + msg.Peer.ID + "\x00" + msg.Sender.ID
}

// NewInboundDebouncer constructs a debouncer that flushes a merged
// message window after the sender goes quiet for window.
func NewInboundDebouncer(window time.Duration, flush func(InboundMessage)) *InboundDebouncer {
	return &InboundDebouncer{window: window, flush: flush, pending: make(map[string]*pendingEntry)}
}

// Push admits msg into the debounce window for its sender, merging it
// with any not-yet-flushed message from the same sender.
func (d *InboundDebouncer) Push(msg InboundMessage) {
	key := debounceKey(msg)

	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.pending[key]; ok {
		entry.timer.Stop()
		merged := entry.msg
		merged.Text = merged.Text + "\n" + msg.Text
		merged.MessageID = msg.MessageID
		merged.Timestamp = msg.Timestamp
		entry.msg = merged
		entry.timer = time.AfterFunc(d.window, func() { d.fire(key) })
		return
	}

	entry := &pendingEntry{msg: msg}
	entry.timer = time.AfterFunc(d.window, func() { d.fire(key) })
	d.pending[key] = entry
}

func (d *InboundDebouncer) fire(key string) {
	d.mu.Lock()
	entry, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if ok {
		d.flush(entry.msg)
	}
}

// Stop cancels every pending timer without flushing (shutdown path).
func (d *InboundDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, entry := range d.pending {
		entry.timer.Stop()
	}
	d.pending = make(map[string]*pendingEntry)
}
