package orchestrator

import "regexp"

// ModelSelection carries the inputs to spec §4.2's model precedence:
// request > meta > session-stored > profile default > system default.
type ModelSelection struct {
	Request        string
	Meta           string
	SessionStored  string
	ProfileDefault string
	SystemDefault  string
}

// ResolveModel applies the documented precedence and returns the first
// non-empty tier.
func ResolveModel(s ModelSelection) string {
	for _, v := range []string{s.Request, s.Meta, s.SessionStored, s.ProfileDefault, s.SystemDefault} {
		if v != "" {
			return v
		}
	}
	return ""
}

// EngineSelection carries the inputs to spec §4.2's engine precedence:
// resume-token > explicit request > model-implied > profile default >
// "lemon" (native).
type EngineSelection struct {
	ResumeEngineID   string
	RequestEngineID  string
	ModelImpliedID   string
	ProfileDefaultID string
	SystemDefaultID  string // the engine registry's default id ("lemon" unless configured otherwise)
}

// ResolveEngine applies the documented precedence and returns the first
// non-empty tier.
func ResolveEngine(s EngineSelection) string {
	for _, v := range []string{s.ResumeEngineID, s.RequestEngineID, s.ModelImpliedID, s.ProfileDefaultID, s.SystemDefaultID} {
		if v != "" {
			return v
		}
	}
	return "lemon"
}

// CwdSelection carries the inputs to spec §4.2's working-directory
// precedence: request > session > profile > caller cwd.
type CwdSelection struct {
	Request     string
	Session     string
	Profile     string
	CallerCwd   string
}

// ResolveCwd applies the documented precedence and returns the first
// non-empty tier.
func ResolveCwd(s CwdSelection) string {
	for _, v := range []string{s.Request, s.Session, s.Profile, s.CallerCwd} {
		if v != "" {
			return v
		}
	}
	return ""
}

// stickyEnginePattern matches spec §4.2's sticky-engine directive:
// "(use|switch to|with) <engine>", mirroring the teacher's
// binding-resolution regex style in resolveAgentRoute.
var stickyEnginePattern = regexp.MustCompile(`(?i)\b(?:use|switch to|with)\s+([a-z0-9_-]+)\b`)

// StickyEngineOverride checks text for the sticky-engine directive and,
// if the named engine is registered (per knownEngineIDs), returns it as
// a this-run-only engine override (spec §4.2).
func StickyEngineOverride(text string, knownEngineIDs []string) (string, bool) {
	m := stickyEnginePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	candidate := m[1]
	for _, id := range knownEngineIDs {
		if id == candidate {
			return id, true
		}
	}
	return "", false
}
