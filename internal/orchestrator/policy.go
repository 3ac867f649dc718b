// Package orchestrator resolves per-request configuration (tool policy,
// model, engine, working directory, resume token) and hands the
// resulting Job to the scheduler, per spec §4.2. Resolution is pure:
// no side effects beyond reads of already-loaded config/session state.
package orchestrator

// ApprovalLevel mirrors the teacher's ToolPolicySpec approval levels
// (internal/config/config_channels.go).
type ApprovalLevel string

const (
	ApprovalAlways ApprovalLevel = "always"
	ApprovalAsk    ApprovalLevel = "ask"
	ApprovalNever  ApprovalLevel = "never"
)

// ToolPolicy is the merge unit spec §4.2 calls "merged tool policy":
// approval levels for the three tool classes the core cares about at
// the orchestration layer (bash, write, process), plus an allow/deny
// list for named tools.
type ToolPolicy struct {
	Bash    ApprovalLevel
	Write   ApprovalLevel
	Process ApprovalLevel
	Allow   []string
	Deny    []string
}

// mergeApproval returns override if set, else base.
func mergeApproval(base, override ApprovalLevel) ApprovalLevel {
	if override != "" {
		return override
	}
	return base
}

// MergeToolPolicy merges agent-level → channel-level → session-level →
// runtime-level tool policy, later tiers winning per key (spec §4.2).
// isGroupPeer applies the group-peer default: unset approval levels for
// {bash, write, process} default to "always" (teacher's group-safety
// behavior, generalized here).
func MergeToolPolicy(agent, channel, session, runtime ToolPolicy, isGroupPeer bool) ToolPolicy {
	merged := ToolPolicy{
		Bash:    mergeApproval(agent.Bash, channel.Bash),
		Write:   mergeApproval(agent.Write, channel.Write),
		Process: mergeApproval(agent.Process, channel.Process),
	}
	merged.Bash = mergeApproval(merged.Bash, session.Bash)
	merged.Write = mergeApproval(merged.Write, session.Write)
	merged.Process = mergeApproval(merged.Process, session.Process)
	merged.Bash = mergeApproval(merged.Bash, runtime.Bash)
	merged.Write = mergeApproval(merged.Write, runtime.Write)
	merged.Process = mergeApproval(merged.Process, runtime.Process)

	if isGroupPeer {
		if merged.Bash == "" {
			merged.Bash = ApprovalAlways
		}
		if merged.Write == "" {
			merged.Write = ApprovalAlways
		}
		if merged.Process == "" {
			merged.Process = ApprovalAlways
		}
	}

	merged.Allow = mergeStringLists(agent.Allow, channel.Allow, session.Allow, runtime.Allow)
	merged.Deny = mergeStringLists(agent.Deny, channel.Deny, session.Deny, runtime.Deny)
	return merged
}

// mergeStringLists unions lists in tier order, later tiers appended
// after earlier ones with duplicates removed (first occurrence wins
// position, consistent with an "also-allow" style accretive merge).
func mergeStringLists(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range lists {
		for _, v := range l {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}
