// Package bus defines the inbound/outbound message contracts shared between
// channel adapters and the intake router, plus a process-local event
// publisher used for dashboard/gateway fanout.
package bus

import "time"

// PeerKind classifies the conversational peer an InboundMessage arrived on.
type PeerKind string

const (
	PeerDirect PeerKind = "dm"
	PeerGroup  PeerKind = "group"
)

// Peer identifies the sender-side context of an inbound message.
type Peer struct {
	Kind     PeerKind
	ID       string
	ThreadID string
}

// Sender identifies who sent an inbound message.
type Sender struct {
	ID          string
	DisplayName string
}

// InboundMessage is an immutable record delivered by a channel adapter.
// It is created once at ingress and never mutated afterward.
type InboundMessage struct {
	Channel   string
	AccountID string
	Peer      Peer
	Sender    Sender

	MessageID string
	Text      string
	Timestamp time.Time
	ReplyToID string

	Meta map[string]string
}

// MediaAttachment describes a single outbound media item.
type MediaAttachment struct {
	Kind     string // image, file, audio, video
	URL      string
	Data     []byte
	MimeType string
	Caption  string
}

// OutboundMessage is a unit of channel delivery produced by the
// orchestration core and consumed by a channel adapter's transport.
type OutboundMessage struct {
	Channel     string
	Peer        Peer
	Text        string
	Attachments []MediaAttachment
	// EditMessageID, if set, asks the transport to edit an existing
	// message instead of sending a new one (edit-in-place channels only).
	EditMessageID string
	Final         bool
}

// Event is a process-local notification published on the EventPublisher,
// consumed by dashboards/gateway clients, never by the run process itself.
type Event struct {
	Name    string
	Payload any
}

// Cache-invalidation event kinds, published when persisted session/agent
// metadata changes underneath a live run.
const (
	CacheInvalidateSession = "session"
	CacheInvalidateAgent   = "agent"
)

// CacheInvalidatePayload carries the key of the invalidated entity.
type CacheInvalidatePayload struct {
	Kind string
	Key  string
}

// MessageHandler processes one InboundMessage.
type MessageHandler func(InboundMessage)

// EventHandler processes one Event.
type EventHandler func(Event)

// EventPublisher fans Events out to interested subscribers.
type EventPublisher interface {
	Subscribe(name string, h EventHandler) (unsubscribe func())
	Unsubscribe(name string, h EventHandler)
	Broadcast(e Event)
}

// MessageRouter is the narrow surface a channel adapter needs to publish
// inbound traffic and receive outbound traffic routed back to it.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(h MessageHandler) (unsubscribe func())
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(channel string, h func(OutboundMessage)) (unsubscribe func())
}
