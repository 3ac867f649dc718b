// Package sessions implements SessionKey derivation: the pure function
// mapping an agent id plus an InboundMessage's identifying fields to the
// canonical string that names a conversational context (spec §3).
package sessions

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/agentcore/internal/bus"
)

// DmScope controls how direct-message sessions are scoped per spec §4.2's
// session-level resolution inputs.
type DmScope string

const (
	DmScopeMain                   DmScope = "main"
	DmScopePerPeer                DmScope = "per-peer"
	DmScopePerAccountChannelPeer  DmScope = "per-account-channel-peer"
	DmScopePerChannelPeer         DmScope = "per-channel-peer"
)

// BuildMainKey returns the control-plane session key for agentID.
func BuildMainKey(agentID string) string {
	return fmt.Sprintf("agent:%s:main", agentID)
}

// BuildKey derives a channel session key from its constituent parts,
// matching spec §3's "agent:<agent>:<channel>:<account>:<peer-kind>:<peer-id>"
// format, with optional ":thread:<tid>" and ":sub:<sid>" suffixes.
func BuildKey(agentID, channel, accountID string, kind bus.PeerKind, peerID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s:%s", agentID, channel, accountID, kind, peerID)
}

// WithThread appends a thread suffix to an already-derived key.
func WithThread(key, threadID string) string {
	if threadID == "" {
		return key
	}
	return key + ":thread:" + threadID
}

// WithSub appends a derived-sub-session suffix to an already-derived key.
func WithSub(key, subID string) string {
	if subID == "" {
		return key
	}
	return key + ":sub:" + subID
}

// BuildSubagentKey names a derived sub-session spawned by a running agent.
func BuildSubagentKey(parentKey, subagentID string) string {
	return WithSub(parentKey, "subagent:"+subagentID)
}

// BuildCronKey names a sub-session used for a scheduled/cron-triggered
// turn, guarding against double-prefixing an already-derived key.
func BuildCronKey(agentID, scheduleID string) string {
	base := BuildMainKey(agentID)
	if strings.Contains(base, ":cron:") {
		return base
	}
	return base + ":cron:" + scheduleID
}

// FromInbound derives the canonical SessionKey for msg, the pure function
// spec §3 requires: two messages with identical derived keys always
// target the same session actor. scope=="global" maps every message to
// mainKeyOverride (or the agent's main key when that is empty); any other
// scope derives per-peer keys, where group keys always carry the thread
// suffix when a thread id is present and dmScope selects how DM keys are
// scoped (spec §4.2).
func FromInbound(agentID string, msg bus.InboundMessage, scope string, dmScope DmScope, mainKeyOverride string) string {
	if scope == "global" {
		if mainKeyOverride != "" {
			return mainKeyOverride
		}
		return BuildMainKey(agentID)
	}

	if msg.Peer.Kind == bus.PeerGroup {
		key := BuildKey(agentID, msg.Channel, msg.AccountID, bus.PeerGroup, msg.Peer.ID)
		return WithThread(key, msg.Peer.ThreadID)
	}

	switch dmScope {
	case DmScopeMain:
		return BuildMainKey(agentID)
	case DmScopePerPeer:
		return BuildKey(agentID, "dm", "", bus.PeerDirect, msg.Sender.ID)
	case DmScopePerAccountChannelPeer:
		return BuildKey(agentID, msg.Channel, msg.AccountID, bus.PeerDirect, msg.Sender.ID)
	default: // per-channel-peer
		return BuildKey(agentID, msg.Channel, "", bus.PeerDirect, msg.Sender.ID)
	}
}

// ParseKey splits a derived key back into its agent id and the remainder,
// the inverse half of FromInbound needed for registry bookkeeping and for
// LastUsedChannel below.
func ParseKey(key string) (agentID, rest string) {
	const prefix = "agent:"
	if !strings.HasPrefix(key, prefix) {
		return "", key
	}
	trimmed := key[len(prefix):]
	idx := strings.Index(trimmed, ":")
	if idx < 0 {
		return trimmed, ""
	}
	return trimmed[:idx], trimmed[idx+1:]
}

// IsSubagentSession reports whether key names a derived sub-agent session.
func IsSubagentSession(key string) bool {
	return strings.Contains(key, ":sub:subagent:")
}

// IsCronSession reports whether key names a cron-triggered session.
func IsCronSession(key string) bool {
	return strings.Contains(key, ":cron:")
}

// LastUsedChannel extracts the channel segment from a channel-scoped key,
// skipping the "main" control-plane form and cron/subagent suffixes.
func LastUsedChannel(key string) string {
	_, rest := ParseKey(key)
	if rest == "main" || rest == "" {
		return ""
	}
	parts := strings.Split(rest, ":")
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// PeerKindFromGroup reports the PeerKind a group-chat key implies.
func PeerKindFromGroup(isGroup bool) bus.PeerKind {
	if isGroup {
		return bus.PeerGroup
	}
	return bus.PeerDirect
}
