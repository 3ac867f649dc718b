package bus

import "sync"

// MessageBus is the in-process implementation of MessageRouter and
// EventPublisher used by the gateway to wire channel adapters to the
// intake router without either side importing the other.
type MessageBus struct {
	mu sync.RWMutex

	inboundSubs  map[int]MessageHandler
	outboundSubs map[string]map[int]func(OutboundMessage)
	eventSubs    map[string]map[int]EventHandler

	nextID int
}

// NewMessageBus creates an empty bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inboundSubs:  make(map[int]MessageHandler),
		outboundSubs: make(map[string]map[int]func(OutboundMessage)),
		eventSubs:    make(map[string]map[int]EventHandler),
	}
}

// PublishInbound delivers msg to every registered inbound consumer.
// Intentionally synchronous: the router processes messages serially per
// its own dedup/debounce stage (see internal/router).
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.mu.RLock()
	handlers := make([]MessageHandler, 0, len(b.inboundSubs))
	for _, h := range b.inboundSubs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}

// ConsumeInbound registers h to receive every published InboundMessage.
func (b *MessageBus) ConsumeInbound(h MessageHandler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.inboundSubs[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.inboundSubs, id)
		b.mu.Unlock()
	}
}

// PublishOutbound delivers msg to subscribers registered for msg.Channel.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.mu.RLock()
	handlers := make([]func(OutboundMessage), 0)
	for _, h := range b.outboundSubs[msg.Channel] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}

// SubscribeOutbound registers h to receive OutboundMessages for channel.
func (b *MessageBus) SubscribeOutbound(channel string, h func(OutboundMessage)) func() {
	b.mu.Lock()
	if b.outboundSubs[channel] == nil {
		b.outboundSubs[channel] = make(map[int]func(OutboundMessage))
	}
	id := b.nextID
	b.nextID++
	b.outboundSubs[channel][id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.outboundSubs[channel], id)
		b.mu.Unlock()
	}
}

// Subscribe registers h for events published under name.
func (b *MessageBus) Subscribe(name string, h EventHandler) func() {
	b.mu.Lock()
	if b.eventSubs[name] == nil {
		b.eventSubs[name] = make(map[int]EventHandler)
	}
	id := b.nextID
	b.nextID++
	b.eventSubs[name][id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.eventSubs[name], id)
		b.mu.Unlock()
	}
}

// Unsubscribe is a no-op convenience kept for interface parity; callers
// should prefer the unsubscribe func returned by Subscribe.
func (b *MessageBus) Unsubscribe(name string, h EventHandler) {}

// Broadcast publishes e to every subscriber of e.Name.
func (b *MessageBus) Broadcast(e Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.eventSubs[e.Name]))
	for _, h := range b.eventSubs[e.Name] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
