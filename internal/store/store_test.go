package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xpe-hub/xpe-bot/internal/message"
)

func TestBotRepoRoundTrip(t *testing.T) {
	repo, err := NewBotRepo(filepath.Join(t.TempDir(), "bots.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()

	ctx := context.Background()

	if rec, err := repo.Get(ctx, "missing"); err != nil || rec != nil {
		t.Fatalf("missing bot: rec=%v err=%v", rec, err)
	}

	rec := &BotRecord{
		Identity:   "main",
		Name:       "Main bot",
		Mode:       "whatsapp",
		Prefix:     ".",
		SessionDSN: "file:main.db?_pragma=foreign_keys(1)",
		Admins:     []string{"123@s.whatsapp.net"},
	}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "Main bot" || got.Mode != "whatsapp" {
		t.Fatalf("got %+v", got)
	}
	if len(got.Admins) != 1 || got.Admins[0] != "123@s.whatsapp.net" {
		t.Fatalf("admins = %v", got.Admins)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("created_at not set")
	}

	sub := &BotRecord{Identity: "sub-1", Mode: "whatsapp", Prefix: ".", ParentID: "main"}
	if err := repo.Save(ctx, sub); err != nil {
		t.Fatal(err)
	}
	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("list: got %d records", len(all))
	}

	if err := repo.Delete(ctx, "sub-1"); err != nil {
		t.Fatal(err)
	}
	if rec, _ := repo.Get(ctx, "sub-1"); rec != nil {
		t.Fatal("delete did not remove record")
	}
}

func TestArchiveRepoStatsAndPrune(t *testing.T) {
	repo, err := NewArchiveRepo(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()

	ctx := context.Background()
	now := time.Now()

	add := func(id, sender string, kind message.Kind, at time.Time) {
		t.Helper()
		err := repo.Add(ctx, &message.Message{
			ID:         id,
			BotID:      "main",
			ChatID:     "chat-1",
			SenderID:   sender,
			Kind:       kind,
			Body:       "hello",
			ReceivedAt: at,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	add("m1", "alice", message.KindText, now.Add(-2*time.Hour))
	add("m2", "alice", message.KindCommand, now.Add(-time.Minute))
	add("m3", "bob", message.KindText, now)
	// Duplicate IDs are ignored, not errors.
	add("m3", "bob", message.KindText, now)

	stats, err := repo.StatsByBot(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Messages != 3 || stats.Commands != 1 || stats.DistinctSenders != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	recent, err := repo.RecentByBot(ctx, "main", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != "m3" || recent[1].ID != "m2" {
		t.Fatalf("recent = %v", recent)
	}

	pruned, err := repo.Prune(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Fatalf("pruned %d rows, want 1", pruned)
	}
	stats, err = repo.StatsByBot(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Messages != 2 {
		t.Fatalf("after prune: %+v", stats)
	}
}
