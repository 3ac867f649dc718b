package registry

import "testing"

func TestKeyedGetOrCreateCallsCreateOnceOnMiss(t *testing.T) {
	k := NewKeyed[string, int]()
	calls := 0
	create := func() int { calls++; return 42 }

	v1 := k.GetOrCreate("a", create)
	v2 := k.GetOrCreate("a", create)

	if v1 != 42 || v2 != 42 {
		t.Errorf("values = %d, %d, want both 42", v1, v2)
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}
}

func TestKeyedDeleteRemovesEntry(t *testing.T) {
	k := NewKeyed[string, int]()
	k.GetOrCreate("a", func() int { return 1 })
	k.Delete("a")

	if _, ok := k.Get("a"); ok {
		t.Error("Get(a) after Delete = found, want absent")
	}
	if k.Len() != 0 {
		t.Errorf("Len() = %d, want 0", k.Len())
	}
}

type fakeRunHandle struct {
	runID, sessionKey string
}

func (h fakeRunHandle) RunID() string     { return h.runID }
func (h fakeRunHandle) SessionKey() string { return h.sessionKey }
func (h fakeRunHandle) Cancel(reason string) {}

func TestRunRegistryRegisterAndLookup(t *testing.T) {
	r := NewRunRegistry()
	h := fakeRunHandle{runID: "r1", sessionKey: "s1"}

	if err := r.Register(h); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if got, ok := r.ByRunID("r1"); !ok || got.RunID() != "r1" {
		t.Errorf("ByRunID(r1) = %v, %v", got, ok)
	}
	if got, ok := r.BySessionKey("s1"); !ok || got.SessionKey() != "s1" {
		t.Errorf("BySessionKey(s1) = %v, %v", got, ok)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestRunRegistryRegisterRejectsSecondRunForBusySession(t *testing.T) {
	r := NewRunRegistry()
	h1 := fakeRunHandle{runID: "r1", sessionKey: "s1"}
	h2 := fakeRunHandle{runID: "r2", sessionKey: "s1"}

	if err := r.Register(h1); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	err := r.Register(h2)
	if _, ok := err.(ErrSessionBusy); !ok {
		t.Fatalf("second Register() error = %v, want ErrSessionBusy", err)
	}
}

func TestRunRegistryReRegisterSameRunIsIdempotent(t *testing.T) {
	r := NewRunRegistry()
	h := fakeRunHandle{runID: "r1", sessionKey: "s1"}

	if err := r.Register(h); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := r.Register(h); err != nil {
		t.Fatalf("re-registering the same handle error = %v, want nil", err)
	}
}

func TestRunRegistryUnregisterFreesSessionForNewRun(t *testing.T) {
	r := NewRunRegistry()
	h1 := fakeRunHandle{runID: "r1", sessionKey: "s1"}
	h2 := fakeRunHandle{runID: "r2", sessionKey: "s1"}

	r.Register(h1)
	r.Unregister(h1)

	if err := r.Register(h2); err != nil {
		t.Fatalf("Register() after Unregister error = %v, want nil", err)
	}
	if _, ok := r.ByRunID("r1"); ok {
		t.Error("ByRunID(r1) found after Unregister, want absent")
	}
}

func TestRunRegistrySessionKeysSnapshot(t *testing.T) {
	r := NewRunRegistry()
	r.Register(fakeRunHandle{runID: "r1", sessionKey: "s1"})
	r.Register(fakeRunHandle{runID: "r2", sessionKey: "s2"})

	keys := r.SessionKeys()
	if len(keys) != 2 {
		t.Fatalf("SessionKeys() = %v, want 2 entries", keys)
	}
}
