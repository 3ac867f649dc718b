package orchestrator

import "testing"

func TestResolveModelPrecedence(t *testing.T) {
	tests := []struct {
		name string
		sel  ModelSelection
		want string
	}{
		{"request wins", ModelSelection{Request: "r", Meta: "m", SessionStored: "s", ProfileDefault: "p", SystemDefault: "d"}, "r"},
		{"meta wins without request", ModelSelection{Meta: "m", SessionStored: "s", ProfileDefault: "p", SystemDefault: "d"}, "m"},
		{"session wins without request/meta", ModelSelection{SessionStored: "s", ProfileDefault: "p", SystemDefault: "d"}, "s"},
		{"profile wins without higher tiers", ModelSelection{ProfileDefault: "p", SystemDefault: "d"}, "p"},
		{"system default last resort", ModelSelection{SystemDefault: "d"}, "d"},
		{"all empty", ModelSelection{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveModel(tt.sel); got != tt.want {
				t.Errorf("ResolveModel(%+v) = %q, want %q", tt.sel, got, tt.want)
			}
		})
	}
}

func TestResolveEngineDefaultsToLemon(t *testing.T) {
	got := ResolveEngine(EngineSelection{})
	if got != "lemon" {
		t.Errorf("ResolveEngine({}) = %q, want lemon", got)
	}
}

func TestResolveEnginePrecedence(t *testing.T) {
	sel := EngineSelection{
		ResumeEngineID:   "resume-eng",
		RequestEngineID:  "req-eng",
		ModelImpliedID:   "model-eng",
		ProfileDefaultID: "profile-eng",
		SystemDefaultID:  "lemon",
	}
	if got := ResolveEngine(sel); got != "resume-eng" {
		t.Errorf("ResolveEngine = %q, want resume-eng", got)
	}
	sel.ResumeEngineID = ""
	if got := ResolveEngine(sel); got != "req-eng" {
		t.Errorf("ResolveEngine = %q, want req-eng", got)
	}
}

func TestResolveCwdPrecedence(t *testing.T) {
	sel := CwdSelection{Request: "/req", Session: "/sess", Profile: "/prof", CallerCwd: "/caller"}
	if got := ResolveCwd(sel); got != "/req" {
		t.Errorf("ResolveCwd = %q, want /req", got)
	}
	sel.Request = ""
	if got := ResolveCwd(sel); got != "/sess" {
		t.Errorf("ResolveCwd = %q, want /sess", got)
	}
}

func TestStickyEngineOverride(t *testing.T) {
	known := []string{"lemon", "claude-cli", "remote-api"}

	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"use directive", "please use claude-cli for this", "claude-cli", true},
		{"switch to directive", "switch to remote-api now", "remote-api", true},
		{"with directive", "answer with lemon", "lemon", true},
		{"unknown engine name", "use gpt5", "", false},
		{"no directive", "just a normal message", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := StickyEngineOverride(tt.text, known)
			if ok != tt.ok || got != tt.want {
				t.Errorf("StickyEngineOverride(%q) = (%q, %v), want (%q, %v)", tt.text, got, ok, tt.want, tt.ok)
			}
		})
	}
}
