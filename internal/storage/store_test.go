package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConnectionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.OpenConnection(ctx, "conn-1", "127.0.0.1", start); err != nil {
		t.Fatalf("OpenConnection: %v", err)
	}
	if err := store.OpenConnection(ctx, "conn-1", "127.0.0.1", start); !errors.Is(err, ErrConnectionExists) {
		t.Fatalf("expected ErrConnectionExists, got %v", err)
	}

	conn, err := store.GetConnection(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if conn == nil || conn.RemoteAddr != "127.0.0.1" || conn.DisconnectedAt != nil {
		t.Fatalf("unexpected connection: %+v", conn)
	}
	if !conn.ConnectedAt.Equal(start) {
		t.Fatalf("connected_at = %v, want %v", conn.ConnectedAt, start)
	}

	if err := store.CloseConnection(ctx, "conn-1", start.Add(time.Minute)); err != nil {
		t.Fatalf("CloseConnection: %v", err)
	}
	if err := store.CloseConnection(ctx, "conn-1", start.Add(2*time.Minute)); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection on second close, got %v", err)
	}
	conn, err = store.GetConnection(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if conn.DisconnectedAt == nil {
		t.Fatalf("expected disconnected_at to be set")
	}

	missing, err := store.GetConnection(ctx, "nope")
	if err != nil {
		t.Fatalf("GetConnection missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown connection, got %+v", missing)
	}
}

func TestAuditEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Now()
	for _, id := range []string{"a", "b"} {
		if err := store.OpenConnection(ctx, id, "", now); err != nil {
			t.Fatalf("OpenConnection %s: %v", id, err)
		}
	}

	events := []AuditEvent{
		{ConnectionID: "a", Kind: "join", Name: "alice", Room: "lobby"},
		{ConnectionID: "b", Kind: "join", Name: "bob", Room: "lobby"},
		{ConnectionID: "b", Kind: "join", Name: "bob", Room: "games"},
		{ConnectionID: "a", Kind: "rejected", Name: "alice", Room: "lobby", Detail: "unsupported type"},
	}
	for _, event := range events {
		if _, err := store.RecordEvent(ctx, event); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}

	if _, err := store.RecordEvent(ctx, AuditEvent{ConnectionID: "ghost", Kind: "join"}); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection for ghost connection, got %v", err)
	}

	lobby, err := store.ListEvents(ctx, AuditFilter{Room: "lobby"})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(lobby) != 3 {
		t.Fatalf("expected 3 lobby events, got %d", len(lobby))
	}
	if lobby[0].Kind != "rejected" || lobby[0].Detail != "unsupported type" {
		t.Fatalf("expected newest event first, got %+v", lobby[0])
	}

	limited, err := store.ListEvents(ctx, AuditFilter{ConnectionID: "b", Limit: 1})
	if err != nil {
		t.Fatalf("ListEvents limited: %v", err)
	}
	if len(limited) != 1 || limited[0].Room != "games" {
		t.Fatalf("unexpected limited result: %+v", limited)
	}

	counts, err := store.CountEventsByKind(ctx)
	if err != nil {
		t.Fatalf("CountEventsByKind: %v", err)
	}
	if counts["join"] != 3 || counts["rejected"] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestPruneBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := store.OpenConnection(ctx, "old", "", old); err != nil {
		t.Fatalf("OpenConnection old: %v", err)
	}
	if _, err := store.RecordEvent(ctx, AuditEvent{ConnectionID: "old", Kind: "connect", CreatedAt: old}); err != nil {
		t.Fatalf("RecordEvent old: %v", err)
	}
	if err := store.CloseConnection(ctx, "old", old.Add(time.Minute)); err != nil {
		t.Fatalf("CloseConnection old: %v", err)
	}
	if err := store.OpenConnection(ctx, "live", "", time.Now()); err != nil {
		t.Fatalf("OpenConnection live: %v", err)
	}

	removed, err := store.PruneBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned connection, got %d", removed)
	}
	events, err := store.ListEvents(ctx, AuditFilter{ConnectionID: "old"})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected audit rows to be cascaded, got %d", len(events))
	}
	live, err := store.GetConnection(ctx, "live")
	if err != nil || live == nil {
		t.Fatalf("expected live connection to survive, got %+v (%v)", live, err)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
