package persona

import (
	"context"
	"database/sql"
	"errors"
	"testing"

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

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	temp := float32(0.8)
	p := &models.LoadedPersonality{
		Name:                 "Nova",
		Provider:             "claude",
		TextModel:            "claude-test",
		VisionModel:          "claude-vision",
		Temperature:          &temp,
		ContextWindowTokens:  4096,
		MemoryScoreThreshold: 0.6,
		MemoryLimit:          7,
		SystemPrompt:         "You are Nova.",
		CustomErrorMessage:   "Nova is away.",
		ShowThinking:         true,
	}
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("id not assigned on insert")
	}

	got, err := store.Load(ctx, "Nova")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("loaded ID = %d, want %d", got.ID, p.ID)
	}
	if got.Provider != "claude" || got.TextModel != "claude-test" || got.VisionModel != "claude-vision" {
		t.Fatalf("model columns wrong: %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.8 {
		t.Fatalf("temperature lost: %+v", got.Temperature)
	}
	if got.ContextWindowTokens != 4096 || got.MemoryLimit != 7 || !got.ShowThinking {
		t.Fatalf("config json fields lost: %+v", got)
	}
	if got.CustomErrorMessage != "Nova is away." {
		t.Fatalf("custom error message lost: %q", got.CustomErrorMessage)
	}
}

func TestSaveUpserts(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	p := &models.LoadedPersonality{Name: "Nova", Provider: "openai", TextModel: "gpt-a"}
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	p.TextModel = "gpt-b"
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.Load(ctx, "Nova")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.TextModel != "gpt-b" {
		t.Fatalf("update lost: %q", got.TextModel)
	}
}

func TestLoadRowIDWinsOverStaleConfig(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	// Save marshals the config before the insert assigns an id, so the
	// stored JSON carries id 0. The row id must still win on load.
	if err := store.Save(ctx, &models.LoadedPersonality{Name: "Nova", Provider: "openai", TextModel: "gpt-a"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx, "Nova")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ID == 0 {
		t.Fatal("loaded ID = 0, want the row id")
	}

	// A config blob with mismatched identity fields must not shadow
	// the columns either.
	if _, err := db.ExecContext(ctx,
		`UPDATE personalities SET config_json = ? WHERE name = ?`,
		`{"id":99,"name":"Impostor","provider":"claude","text_model":"other","memory_limit":3}`, "Nova",
	); err != nil {
		t.Fatalf("update config: %v", err)
	}
	got, err = store.Load(ctx, "Nova")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.ID == 99 || got.Name != "Nova" || got.Provider != "openai" || got.TextModel != "gpt-a" {
		t.Fatalf("config blob shadowed row columns: %+v", got)
	}
	if got.MemoryLimit != 3 {
		t.Fatalf("config fields lost: %+v", got)
	}
}

func TestLoadMissing(t *testing.T) {
	store := NewStore(openTestDB(t))
	_, err := store.Load(context.Background(), "Ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveRejectsIncomplete(t *testing.T) {
	store := NewStore(openTestDB(t))
	if err := store.Save(context.Background(), &models.LoadedPersonality{Name: "NoModel", Provider: "openai"}); err == nil {
		t.Fatal("expected validation error")
	}
}
