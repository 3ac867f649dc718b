// Package registry implements the process-wide concurrent-safe mappings
// spec §2 calls for: run-id → run process, session-key → run process, and
// (session-key, channel) → coalescer. All lookups are O(1) and safe for
// concurrent use; reads of one key never block writers of another.
package registry

import "sync"

// CoalescerKey identifies a per-(session, channel) coalescer instance.
type CoalescerKey struct {
	SessionKey string
	Channel    string
}

// RunHandle is the minimal surface the registries need from a run
// process: enough to cancel it and to know its identity. Kept narrow so
// this package never imports internal/runprocess (which imports this
// package to register itself), avoiding an import cycle.
type RunHandle interface {
	RunID() string
	SessionKey() string
	Cancel(reason string)
}

// Keyed is a generic concurrent-safe map keyed by any comparable type.
// It backs both coalescer registries (stream and tool-status) and any
// future per-(session,channel) keyed resource.
type Keyed[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// NewKeyed constructs an empty Keyed registry.
func NewKeyed[K comparable, V any]() *Keyed[K, V] {
	return &Keyed[K, V]{m: make(map[K]V)}
}

// Get returns the value for key and whether it was present.
func (k *Keyed[K, V]) Get(key K) (V, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.m[key]
	return v, ok
}

// GetOrCreate returns the existing value for key, or stores and returns
// the result of create if absent. create is invoked at most once per
// miss; a race between two misses resolves to whichever create finishes
// first registering the key.
func (k *Keyed[K, V]) GetOrCreate(key K, create func() V) V {
	k.mu.RLock()
	if v, ok := k.m[key]; ok {
		k.mu.RUnlock()
		return v
	}
	k.mu.RUnlock()

	k.mu.Lock()
	defer k.mu.Unlock()
	if v, ok := k.m[key]; ok {
		return v
	}
	v := create()
	k.m[key] = v
	return v
}

// Delete removes key from the registry.
func (k *Keyed[K, V]) Delete(key K) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.m, key)
}

// Len returns the number of entries currently registered.
func (k *Keyed[K, V]) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.m)
}

// RunRegistry holds the two run-process mappings from spec §2/§3: every
// run is registered by run id and by session key for its entire
// lifetime, and unregistered exactly once on termination. At most one
// run process may be registered per session key at a time (spec §3
// invariant).
type RunRegistry struct {
	mu         sync.RWMutex
	byRunID    map[string]RunHandle
	bySession  map[string]RunHandle
}

// ErrSessionBusy is returned by Register when a run is already active
// for the given session key.
type ErrSessionBusy struct{ SessionKey string }

func (e ErrSessionBusy) Error() string {
	return "registry: session " + e.SessionKey + " already has an active run"
}

// NewRunRegistry constructs an empty RunRegistry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{
		byRunID:   make(map[string]RunHandle),
		bySession: make(map[string]RunHandle),
	}
}

// Register enrolls h in both maps. Returns ErrSessionBusy if another run
// is already registered for h.SessionKey(), enforcing spec §3's "at most
// one active run process per session key" invariant.
func (r *RunRegistry) Register(h RunHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.bySession[h.SessionKey()]; ok && existing.RunID() != h.RunID() {
		return ErrSessionBusy{SessionKey: h.SessionKey()}
	}
	r.byRunID[h.RunID()] = h
	r.bySession[h.SessionKey()] = h
	return nil
}

// Unregister removes h from both maps. Safe to call more than once.
func (r *RunRegistry) Unregister(h RunHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byRunID, h.RunID())
	if existing, ok := r.bySession[h.SessionKey()]; ok && existing.RunID() == h.RunID() {
		delete(r.bySession, h.SessionKey())
	}
}

// ByRunID looks up a run process by its run id.
func (r *RunRegistry) ByRunID(runID string) (RunHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byRunID[runID]
	return h, ok
}

// BySessionKey looks up the active run process for a session key.
func (r *RunRegistry) BySessionKey(key string) (RunHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.bySession[key]
	return h, ok
}

// SessionKeys returns a snapshot of every session key with an active run.
func (r *RunRegistry) SessionKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.bySession))
	for k := range r.bySession {
		keys = append(keys, k)
	}
	return keys
}

// Count returns the number of currently-registered runs, used by the
// health endpoint and the run supervisor's admission cap.
func (r *RunRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRunID)
}
