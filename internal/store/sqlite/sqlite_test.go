package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPendingCompactionSetGetClearRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	pc := store.PendingCompaction{SessionKey: "agent:bot:main", Reason: "context_ratio", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := s.SetPendingCompaction(ctx, pc); err != nil {
		t.Fatalf("SetPendingCompaction() error = %v", err)
	}

	got, err := s.GetPendingCompaction(ctx, "agent:bot:main")
	if err != nil {
		t.Fatalf("GetPendingCompaction() error = %v", err)
	}
	if got.Reason != "context_ratio" {
		t.Errorf("Reason = %q, want context_ratio", got.Reason)
	}

	if err := s.ClearPendingCompaction(ctx, "agent:bot:main"); err != nil {
		t.Fatalf("ClearPendingCompaction() error = %v", err)
	}
	if _, err := s.GetPendingCompaction(ctx, "agent:bot:main"); err != store.ErrNotFound {
		t.Errorf("GetPendingCompaction() after clear error = %v, want ErrNotFound", err)
	}
}

func TestPendingCompactionExpiresOnRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	pc := store.PendingCompaction{SessionKey: "agent:bot:main", Reason: "context_ratio", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	if err := s.SetPendingCompaction(ctx, pc); err != nil {
		t.Fatalf("SetPendingCompaction() error = %v", err)
	}

	if _, err := s.GetPendingCompaction(ctx, "agent:bot:main"); err != store.ErrNotFound {
		t.Errorf("GetPendingCompaction() for expired marker error = %v, want ErrNotFound", err)
	}
}

func TestGetPendingCompactionMissingReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetPendingCompaction(context.Background(), "nope"); err != store.ErrNotFound {
		t.Errorf("GetPendingCompaction() error = %v, want ErrNotFound", err)
	}
}

func TestSessionMetaPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	meta := store.SessionMeta{SessionKey: "agent:bot:main", EngineID: "lemon", Model: "default", Cwd: "/tmp", LastChannel: "telegram"}
	if err := s.PutSessionMeta(ctx, meta); err != nil {
		t.Fatalf("PutSessionMeta() error = %v", err)
	}

	got, err := s.GetSessionMeta(ctx, "agent:bot:main")
	if err != nil {
		t.Fatalf("GetSessionMeta() error = %v", err)
	}
	if got.EngineID != "lemon" || got.Model != "default" || got.LastChannel != "telegram" {
		t.Errorf("got = %+v, want engine lemon/model default/channel telegram", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped")
	}
}

func TestSessionMetaPutOverwritesExistingRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.PutSessionMeta(ctx, store.SessionMeta{SessionKey: "agent:bot:main", EngineID: "lemon"})
	s.PutSessionMeta(ctx, store.SessionMeta{SessionKey: "agent:bot:main", EngineID: "claude"})

	got, err := s.GetSessionMeta(ctx, "agent:bot:main")
	if err != nil {
		t.Fatalf("GetSessionMeta() error = %v", err)
	}
	if got.EngineID != "claude" {
		t.Errorf("EngineID = %q, want claude after overwrite", got.EngineID)
	}
}

func TestGetSessionMetaMissingReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetSessionMeta(context.Background(), "nope"); err != store.ErrNotFound {
		t.Errorf("GetSessionMeta() error = %v, want ErrNotFound", err)
	}
}

func TestEndpointAliasPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	alias := store.EndpointAlias{Name: "standup", Channel: "telegram", AccountID: "acc1", PeerID: "g1"}
	if err := s.PutEndpointAlias(ctx, alias); err != nil {
		t.Fatalf("PutEndpointAlias() error = %v", err)
	}

	got, err := s.GetEndpointAlias(ctx, "standup")
	if err != nil {
		t.Fatalf("GetEndpointAlias() error = %v", err)
	}
	if got.Channel != "telegram" || got.AccountID != "acc1" || got.PeerID != "g1" {
		t.Errorf("got = %+v, want telegram/acc1/g1", got)
	}
}

func TestGetEndpointAliasMissingReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetEndpointAlias(context.Background(), "nope"); err != store.ErrNotFound {
		t.Errorf("GetEndpointAlias() error = %v, want ErrNotFound", err)
	}
}
