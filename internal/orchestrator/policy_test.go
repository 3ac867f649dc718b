package orchestrator

import (
	"reflect"
	"testing"
)

func TestMergeToolPolicyLaterTierWins(t *testing.T) {
	agent := ToolPolicy{Bash: ApprovalAsk, Write: ApprovalAsk, Process: ApprovalAsk, Allow: []string{"read"}}
	channel := ToolPolicy{Bash: ApprovalNever}
	session := ToolPolicy{}
	runtime := ToolPolicy{Process: ApprovalAlways, Allow: []string{"shell"}}

	got := MergeToolPolicy(agent, channel, session, runtime, false)

	want := ToolPolicy{
		Bash:    ApprovalNever,  // channel override wins over agent
		Write:   ApprovalAsk,    // unset at lower tiers, agent value kept
		Process: ApprovalAlways, // runtime override wins
		Allow:   []string{"read", "shell"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeToolPolicy = %+v, want %+v", got, want)
	}
}

func TestMergeToolPolicyGroupPeerDefaultsToAlways(t *testing.T) {
	got := MergeToolPolicy(ToolPolicy{}, ToolPolicy{}, ToolPolicy{}, ToolPolicy{}, true)

	if got.Bash != ApprovalAlways || got.Write != ApprovalAlways || got.Process != ApprovalAlways {
		t.Errorf("group-peer default = %+v, want all ApprovalAlways", got)
	}
}

func TestMergeToolPolicyGroupPeerDoesNotOverrideExplicitSetting(t *testing.T) {
	agent := ToolPolicy{Bash: ApprovalNever}
	got := MergeToolPolicy(agent, ToolPolicy{}, ToolPolicy{}, ToolPolicy{}, true)

	if got.Bash != ApprovalNever {
		t.Errorf("Bash = %q, want explicit ApprovalNever to survive group-peer default", got.Bash)
	}
	if got.Write != ApprovalAlways {
		t.Errorf("Write = %q, want ApprovalAlways default for unset group-peer tier", got.Write)
	}
}

func TestMergeStringListsDedupesPreservingFirstOccurrence(t *testing.T) {
	got := mergeStringLists([]string{"a", "b"}, []string{"b", "c"}, []string{"a", "d"})
	want := []string{"a", "b", "c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeStringLists = %v, want %v", got, want)
	}
}
