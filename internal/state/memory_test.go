package state

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryBotStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBotStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }

	if err := s.Create(ctx, &Bot{ID: "b", Name: "second", Token: "tok-b"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, &Bot{ID: "a", Name: "third", Token: "tok-a"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, &Bot{ID: "a"}); !errors.Is(err, ErrBotExists) {
		t.Errorf("duplicate create err = %v, want ErrBotExists", err)
	}

	list, _ := s.List(ctx)
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "a" {
		t.Fatalf("List order = %v, want creation order", ids(list))
	}

	got, err := s.GetByToken(ctx, "tok-a")
	if err != nil || got.ID != "a" {
		t.Fatalf("GetByToken = %v, %v", got, err)
	}
	if _, err := s.GetByToken(ctx, ""); !errors.Is(err, ErrBotNotFound) {
		t.Errorf("empty token err = %v", err)
	}

	name := "renamed"
	off := false
	upd, err := s.Update(ctx, "a", BotPatch{Name: &name, SmartSync: &off})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if upd.Name != "renamed" || upd.Token != "tok-a" {
		t.Errorf("Update = %+v", upd)
	}
	if !upd.UpdatedAt.After(upd.CreatedAt) {
		t.Errorf("UpdatedAt %v not after CreatedAt %v", upd.UpdatedAt, upd.CreatedAt)
	}

	// Returned values are copies.
	upd.Name = "mutated"
	again, _ := s.Get(ctx, "a")
	if again.Name != "renamed" {
		t.Errorf("store aliased returned bot: %q", again.Name)
	}

	if _, err := s.Update(ctx, "missing", BotPatch{}); !errors.Is(err, ErrBotNotFound) {
		t.Errorf("Update missing err = %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "a"); !errors.Is(err, ErrBotNotFound) {
		t.Errorf("second Delete err = %v", err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestMemoryBotStoreBatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBotStore()
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		at := time.Unix(int64(i), 0)
		_ = s.Create(ctx, &Bot{ID: id, CreatedAt: at})
	}
	b, _ := s.Batch(ctx, 2, 2)
	if got := ids(b); len(got) != 2 || got[0] != "c" || got[1] != "d" {
		t.Errorf("Batch(2,2) = %v", got)
	}
	b, _ = s.Batch(ctx, 10, 2)
	if b == nil || len(b) != 0 {
		t.Errorf("Batch past end = %v, want empty", b)
	}
}

func TestMemoryHistoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryHistoryStore()

	turns := []Turn{
		{BotID: "b1", SessionID: "s1", FromUser: true, Message: "hi"},
		{BotID: "b1", SessionID: "s1", FromUser: false, Message: "hello"},
		{BotID: "b1", SessionID: "s2", FromUser: true, Message: "other"},
		{BotID: "b2", SessionID: "s3", FromUser: true, Message: "tenant two"},
		{BotID: "b1", SessionID: "s1", FromUser: true, Message: "again"},
	}
	for _, tr := range turns {
		if _, err := s.Append(ctx, tr); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, _ := s.BySession(ctx, "s1", 20, 0)
	want := []string{"hi", "hello", "again"}
	if len(got) != len(want) {
		t.Fatalf("BySession len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Message != want[i] {
			t.Errorf("turn %d = %q, want %q", i, got[i].Message, want[i])
		}
		if i > 0 && got[i].ID <= got[i-1].ID {
			t.Errorf("ids not increasing: %d then %d", got[i-1].ID, got[i].ID)
		}
	}

	got, _ = s.BySession(ctx, "s1", 1, 1)
	if len(got) != 1 || got[0].Message != "hello" {
		t.Errorf("BySession(limit 1, offset 1) = %+v", got)
	}

	sessions, _ := s.SessionsByBot(ctx, "b1", 20, 0)
	if len(sessions) != 2 {
		t.Fatalf("SessionsByBot = %+v", sessions)
	}
	if sessions[0].SessionID != "s1" || sessions[0].FirstMessage.Message != "hi" {
		t.Errorf("first session = %+v", sessions[0])
	}
	if sessions[1].SessionID != "s2" {
		t.Errorf("second session = %+v", sessions[1])
	}
}

func ids(bots []*Bot) []string {
	out := make([]string, len(bots))
	for i, b := range bots {
		out[i] = b.ID
	}
	return out
}

func TestMemoryHistoryScopedToBot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryHistoryStore()
	for _, tr := range []Turn{
		{BotID: "b1", SessionID: "shared", Message: "one"},
		{BotID: "b2", SessionID: "shared", Message: "secret"},
		{BotID: "b1", SessionID: "shared", Message: "two"},
		{BotID: "b1", SessionID: "shared", Message: "three"},
	} {
		if _, err := s.Append(ctx, tr); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, _ := s.BySessionAndBot(ctx, "b1", "shared", 2, 1)
	if len(got) != 2 || got[0].Message != "two" || got[1].Message != "three" {
		t.Errorf("BySessionAndBot(limit 2, offset 1) = %+v", got)
	}

	got, _ = s.RecentBySessionAndBot(ctx, "b1", "shared", 2)
	if len(got) != 2 || got[0].Message != "two" || got[1].Message != "three" {
		t.Errorf("RecentBySessionAndBot = %+v", got)
	}
	for _, tr := range got {
		if tr.BotID != "b1" {
			t.Errorf("turn %d belongs to %s", tr.ID, tr.BotID)
		}
	}

	got, _ = s.RecentBySessionAndBot(ctx, "b3", "shared", 2)
	if got == nil || len(got) != 0 {
		t.Errorf("RecentBySessionAndBot(unknown bot) = %v, want empty", got)
	}
}
