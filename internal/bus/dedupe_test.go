package bus

import (
	"testing"
	"time"
)

func TestDedupeCacheFirstSeenNotDuplicate(t *testing.T) {
	d := NewDedupeCache(time.Minute, 0)
	if d.IsDuplicate("a") {
		t.Error("first IsDuplicate(a) = true, want false")
	}
}

func TestDedupeCacheRepeatWithinTTLIsDuplicate(t *testing.T) {
	d := NewDedupeCache(time.Minute, 0)
	d.IsDuplicate("a")
	if !d.IsDuplicate("a") {
		t.Error("second IsDuplicate(a) within TTL = false, want true")
	}
}

func TestDedupeCacheExpiresAfterTTL(t *testing.T) {
	d := NewDedupeCache(10*time.Millisecond, 0)
	d.IsDuplicate("a")
	time.Sleep(20 * time.Millisecond)
	if d.IsDuplicate("a") {
		t.Error("IsDuplicate(a) after TTL elapsed = true, want false")
	}
}

func TestDedupeCacheEvictsOldestPastMax(t *testing.T) {
	d := NewDedupeCache(time.Hour, 2)
	d.IsDuplicate("a")
	d.IsDuplicate("b")
	d.IsDuplicate("c") // evicts "a"

	if !d.IsDuplicate("b") {
		t.Error("IsDuplicate(b) = false, want true (b should still be tracked)")
	}
	if d.IsDuplicate("a") {
		t.Error("IsDuplicate(a) after eviction = true, want false (a should have been forgotten)")
	}
}
