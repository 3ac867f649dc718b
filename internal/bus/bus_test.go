package bus

import "testing"

func TestPublishInboundDeliversToAllConsumers(t *testing.T) {
	b := NewMessageBus()
	var gotA, gotB InboundMessage
	b.ConsumeInbound(func(m InboundMessage) { gotA = m })
	b.ConsumeInbound(func(m InboundMessage) { gotB = m })

	b.PublishInbound(InboundMessage{Text: "hi"})

	if gotA.Text != "hi" || gotB.Text != "hi" {
		t.Errorf("gotA=%q gotB=%q, want both 'hi'", gotA.Text, gotB.Text)
	}
}

func TestConsumeInboundUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMessageBus()
	count := 0
	unsub := b.ConsumeInbound(func(m InboundMessage) { count++ })

	b.PublishInbound(InboundMessage{})
	unsub()
	b.PublishInbound(InboundMessage{})

	if count != 1 {
		t.Errorf("count = %d, want 1 (no delivery after unsubscribe)", count)
	}
}

func TestPublishOutboundOnlyReachesMatchingChannel(t *testing.T) {
	b := NewMessageBus()
	var tgCount, dcCount int
	b.SubscribeOutbound("telegram", func(m OutboundMessage) { tgCount++ })
	b.SubscribeOutbound("discord", func(m OutboundMessage) { dcCount++ })

	b.PublishOutbound(OutboundMessage{Channel: "telegram", Text: "hi"})

	if tgCount != 1 || dcCount != 0 {
		t.Errorf("tgCount=%d dcCount=%d, want 1,0", tgCount, dcCount)
	}
}

func TestBroadcastOnlyReachesSubscribersOfThatName(t *testing.T) {
	b := NewMessageBus()
	var agentCount, chatCount int
	b.Subscribe("agent", func(e Event) { agentCount++ })
	b.Subscribe("chat", func(e Event) { chatCount++ })

	b.Broadcast(Event{Name: "agent"})

	if agentCount != 1 || chatCount != 0 {
		t.Errorf("agentCount=%d chatCount=%d, want 1,0", agentCount, chatCount)
	}
}
