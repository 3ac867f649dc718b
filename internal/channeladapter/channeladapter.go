// Package channeladapter implements spec §4.5's polymorphic channel
// adapter: the two operations the coalescers invoke (emit_stream_output,
// emit_tool_status) plus the two lifecycle calls (on_started,
// on_completed), with two concrete strategies — Generic (plain enqueue)
// and EditInPlace (dual-message edit-in-place with a cancel control).
// Re-expresses the teacher's Channel/StreamingChannel interface split
// (internal/channels/channel.go) as a single polymorphic Adapter.
package channeladapter

import (
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/bus"
)

// StreamSnapshot is the cumulative-text snapshot handed to the adapter
// by the stream coalescer (spec §4.6).
type StreamSnapshot struct {
	Version  uint64
	FullText string
}

// ToolStatusSnapshot is the rendered tool-status block handed to the
// adapter by the tool-status coalescer (spec §4.7).
type ToolStatusSnapshot struct {
	Version  uint64
	Rendered string
}

// Outcome is the terminal result delivered via OnCompleted (spec §6).
type Outcome struct {
	OK            bool
	Answer        string
	Error         string
	ResumeDisplay string
}

// Adapter is the contract spec §4.5 defines: two coalescer-invoked
// operations plus two lifecycle calls. Implementations never see raw
// engine errors and never propagate transport failures back to the run
// process — failures are telemetry events only.
type Adapter interface {
	EmitStreamOutput(sessionKey, channel string, snap StreamSnapshot)
	EmitToolStatus(sessionKey, channel string, snap ToolStatusSnapshot)
	OnStarted(sessionKey, channel string, meta map[string]string)
	OnCompleted(sessionKey, channel string, outcome Outcome)
}

// Transport is the narrow outbound-delivery surface an Adapter drives;
// channel-specific implementations (discord, telegram, generic bus)
// satisfy it.
type Transport interface {
	Send(msg bus.OutboundMessage)
}

// CancelRequester lets an edit-in-place adapter's cancel control invoke
// back into the scheduler/router without importing either.
type CancelRequester func(sessionKey string)

// KeepaliveRequester is implemented by adapters that can prompt the
// user interactively and wait for a reply (spec §4.4 watchdog: "if the
// channel supports interactive confirmation, send a keepalive prompt
// with 'Keep waiting' / 'Stop run' and wait for a reply"). Adapters
// that don't implement it are treated as non-interactive, and the
// watchdog cancels on idle timeout without asking.
type KeepaliveRequester interface {
	// RequestKeepalive sends the prompt and blocks until the user
	// responds or confirmTimeout elapses. keepWaiting=true means the
	// user chose to keep waiting; false (including on timeout) means
	// stop.
	RequestKeepalive(sessionKey, channel string, confirmTimeout time.Duration) (keepWaiting bool)
}
