package channeladapter

import (
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/agentcore/internal/bus"
)

// Generic is spec §4.5's generic variant: each call enqueues a plain
// message segment; no edit-in-place, no interactive controls. Each
// stream snapshot whose version is newer than the last one seen for the
// session+channel is sent at once; a snapshot whose version is not
// newer is dropped. This adapter holds nothing back and applies no rate
// limit of its own.
type Generic struct {
	transport Transport

	mu      sync.Mutex
	pending map[string]StreamSnapshot
}

// NewGeneric constructs a Generic adapter delivering through transport.
func NewGeneric(transport Transport) *Generic {
	return &Generic{transport: transport, pending: make(map[string]StreamSnapshot)}
}

func key(sessionKey, channel string) string { return channel + "\x00" + sessionKey }

func (g *Generic) EmitStreamOutput(sessionKey, channel string, snap StreamSnapshot) {
	k := key(sessionKey, channel)
	g.mu.Lock()
	if prev, ok := g.pending[k]; ok && prev.Version >= snap.Version {
		g.mu.Unlock()
		return
	}
	g.pending[k] = snap
	g.mu.Unlock()

	g.transport.Send(bus.OutboundMessage{
		Channel: channel,
		Text:    snap.FullText,
		Final:   false,
	})
}

func (g *Generic) EmitToolStatus(sessionKey, channel string, snap ToolStatusSnapshot) {
	g.transport.Send(bus.OutboundMessage{
		Channel: channel,
		Text:    snap.Rendered,
	})
}

func (g *Generic) OnStarted(sessionKey, channel string, meta map[string]string) {
	// Generic channels show no visible placeholder for "started" (spec §4.4).
}

func (g *Generic) OnCompleted(sessionKey, channel string, outcome Outcome) {
	k := key(sessionKey, channel)
	g.mu.Lock()
	delete(g.pending, k)
	g.mu.Unlock()

	text := outcome.Answer
	if !outcome.OK {
		text = outcome.Error
		if outcome.ResumeDisplay != "" {
			text += "\n\nReply to retry: " + outcome.ResumeDisplay
		}
		slog.Info("channeladapter.generic: run failed", "session", sessionKey, "channel", channel, "error", outcome.Error)
	}
	g.transport.Send(bus.OutboundMessage{Channel: channel, Text: text, Final: true})
}
