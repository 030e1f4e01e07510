package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"personagen/internal/config"
	"personagen/internal/models"
	"personagen/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: ":memory:"},
	}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestAppendAndRecent(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		err := store.Append(ctx, "c1", models.ChatMessage{
			MessageID: string(rune('a' + i)),
			AuthorID:  "u1",
			Role:      models.RoleUser,
			Content:   "message",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := store.Recent(ctx, "c1", 3, time.Time{})
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	// newest three, chronological order
	if got[0].MessageID != "c" || got[2].MessageID != "e" {
		t.Fatalf("wrong window or order: %+v", got)
	}
}

func TestAppendDuplicateIgnored(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	msg := models.ChatMessage{MessageID: "m1", AuthorID: "u1", Role: models.RoleUser, Content: "once"}
	if err := store.Append(ctx, "c1", msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	msg.Content = "twice"
	if err := store.Append(ctx, "c1", msg); err != nil {
		t.Fatalf("duplicate append errored: %v", err)
	}

	got, err := store.Recent(ctx, "c1", 10, time.Time{})
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].Content != "once" {
		t.Fatalf("duplicate insert changed history: %+v", got)
	}
}

func TestRecentAgeWindow(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	old := models.ChatMessage{MessageID: "old", AuthorID: "u1", Role: models.RoleUser, Content: "old", CreatedAt: now.Add(-2 * time.Hour)}
	fresh := models.ChatMessage{MessageID: "new", AuthorID: "u1", Role: models.RoleUser, Content: "new", CreatedAt: now}
	if err := store.Append(ctx, "c1", old); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, "c1", fresh); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.Recent(ctx, "c1", 10, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].MessageID != "new" {
		t.Fatalf("age window ignored: %+v", got)
	}
}

func TestRecentChannelIsolation(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	if err := store.Append(ctx, "c1", models.ChatMessage{MessageID: "m1", AuthorID: "u1", Role: models.RoleUser, Content: "c1 talk"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := store.Recent(ctx, "c2", 10, time.Time{})
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("channel leak: %+v", got)
	}
}
