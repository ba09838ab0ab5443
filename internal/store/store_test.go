package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

type profile struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

func memStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCRUDRoundTrip(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	in := profile{PlayerID: "p1", Name: "alice", Score: 42}
	if err := s.Create(ctx, "profiles", "player_id", in.PlayerID, in); err != nil {
		t.Fatalf("create: %v", err)
	}

	var out profile
	if err := s.Read(ctx, "profiles", "player_id", "p1", &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out != in {
		t.Fatalf("read back %+v, want %+v", out, in)
	}

	in.Score = 100
	if err := s.Update(ctx, "profiles", "player_id", in.PlayerID, in); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.Read(ctx, "profiles", "player_id", "p1", &out); err != nil {
		t.Fatalf("read after update: %v", err)
	}
	if out.Score != 100 {
		t.Fatalf("score = %d after update, want 100", out.Score)
	}

	if err := s.Delete(ctx, "profiles", "player_id", "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Read(ctx, "profiles", "player_id", "p1", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("read after delete: %v, want ErrNotFound", err)
	}
}

func TestCreateDuplicateKeyFails(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	p := profile{PlayerID: "p1", Name: "alice"}
	if err := s.Create(ctx, "profiles", "player_id", "p1", p); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := s.Create(ctx, "profiles", "player_id", "p1", p); err == nil {
		t.Fatal("duplicate create succeeded")
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	s := memStore(t)
	err := s.Update(context.Background(), "profiles", "player_id", "ghost", profile{PlayerID: "ghost"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: %v, want ErrNotFound", err)
	}
	err = s.Delete(context.Background(), "profiles", "player_id", "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing: %v, want ErrNotFound", err)
	}
}

func TestTablesAreIsolated(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, "profiles", "player_id", "x", profile{PlayerID: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Same key in a different table must not collide.
	if err := s.Create(ctx, "sessions", "session_id", "x", map[string]string{"session_id": "x"}); err != nil {
		t.Fatalf("create in second table: %v", err)
	}

	var out profile
	if err := s.Read(ctx, "sessions", "session_id", "x", &map[string]string{}); err != nil {
		t.Fatalf("read from second table: %v", err)
	}
	if err := s.Read(ctx, "profiles", "player_id", "x", &out); err != nil {
		t.Fatalf("read from first table: %v", err)
	}
}

func TestListReturnsAllRecords(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Create(ctx, "profiles", "player_id", id, profile{PlayerID: id}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	records, err := s.List(ctx, "profiles")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("list returned %d records, want 3", len(records))
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, ok := records[id]; !ok {
			t.Fatalf("list missing key %s", id)
		}
	}
}

func TestBansPersistAcrossReload(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	bans, err := LoadBans(ctx, s)
	if err != nil {
		t.Fatalf("load bans: %v", err)
	}
	if err := bans.Add(ctx, Ban{PlayerID: "cheater", Reason: "speed hack", Issuer: "admin"}); err != nil {
		t.Fatalf("add ban: %v", err)
	}
	if !bans.IsBanned("cheater", time.Now()) {
		t.Fatal("fresh ban not in effect")
	}

	// Reload from the same backing store simulates a restart.
	reloaded, err := LoadBans(ctx, s)
	if err != nil {
		t.Fatalf("reload bans: %v", err)
	}
	if !reloaded.IsBanned("cheater", time.Now()) {
		t.Fatal("ban lost across reload")
	}
	got, ok := reloaded.Get("cheater")
	if !ok || got.Reason != "speed hack" {
		t.Fatalf("reloaded ban = %+v ok=%v", got, ok)
	}

	if err := reloaded.Remove(ctx, "cheater"); err != nil {
		t.Fatalf("remove ban: %v", err)
	}
	if reloaded.IsBanned("cheater", time.Now()) {
		t.Fatal("removed ban still in effect")
	}
	final, err := LoadBans(ctx, s)
	if err != nil {
		t.Fatalf("final reload: %v", err)
	}
	if final.IsBanned("cheater", time.Now()) {
		t.Fatal("removed ban resurfaced after reload")
	}
}

func TestTemporaryBanExpires(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	bans, err := LoadBans(ctx, s)
	if err != nil {
		t.Fatalf("load bans: %v", err)
	}
	until := time.Now().Add(time.Hour)
	if err := bans.Add(ctx, Ban{PlayerID: "p1", Until: &until}); err != nil {
		t.Fatalf("add ban: %v", err)
	}

	if !bans.IsBanned("p1", time.Now()) {
		t.Fatal("ban should be active before expiry")
	}
	if bans.IsBanned("p1", until.Add(time.Minute)) {
		t.Fatal("ban should lapse after expiry")
	}
}

func TestRebanReplacesRecord(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	bans, err := LoadBans(ctx, s)
	if err != nil {
		t.Fatalf("load bans: %v", err)
	}
	if err := bans.Add(ctx, Ban{PlayerID: "p1", Reason: "first"}); err != nil {
		t.Fatalf("first ban: %v", err)
	}
	if err := bans.Add(ctx, Ban{PlayerID: "p1", Reason: "second"}); err != nil {
		t.Fatalf("re-ban: %v", err)
	}
	got, _ := bans.Get("p1")
	if got.Reason != "second" {
		t.Fatalf("reason = %q, want updated record", got.Reason)
	}
	if len(bans.List()) != 1 {
		t.Fatalf("list length = %d, want 1", len(bans.List()))
	}
}

func TestFlush(t *testing.T) {
	s := memStore(t)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
