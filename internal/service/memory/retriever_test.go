package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"personagen/internal/models"
)

type fakeSearcher struct {
	entries []models.MemoryEntry
	err     error

	gotChannels []string
	gotLimit    int
}

func (f *fakeSearcher) Search(_ context.Context, _ int64, _ string, channelIDs []string, _ string, limit int) ([]models.MemoryEntry, error) {
	f.gotChannels = channelIDs
	f.gotLimit = limit
	return f.entries, f.err
}

func baseContext() *models.RequestContext {
	return &models.RequestContext{
		User:        models.UserIdentity{DiscordID: "u1"},
		Environment: models.Environment{ChannelID: "c1"},
	}
}

func TestRetrieveFocusModeDisables(t *testing.T) {
	store := &fakeSearcher{entries: []models.MemoryEntry{{ID: 1, Score: 0.9}}}
	r := NewRetriever(store, nil)

	rc := baseContext()
	rc.FocusMode = true
	if got := r.Retrieve(context.Background(), rc, &models.LoadedPersonality{}, "q"); got != nil {
		t.Fatalf("focus mode returned memories: %+v", got)
	}
	if store.gotLimit != 0 {
		t.Fatal("store searched despite focus mode")
	}
}

func TestRetrieveThresholdLimitAndOrder(t *testing.T) {
	store := &fakeSearcher{entries: []models.MemoryEntry{
		{ID: 1, Score: 0.40, Content: "low"},
		{ID: 2, Score: 0.90, Content: "high"},
		{ID: 3, Score: 0.75, Content: "mid"},
		{ID: 4, Score: 0.80, Content: "upper"},
	}}
	r := NewRetriever(store, nil)
	p := &models.LoadedPersonality{MemoryScoreThreshold: 0.5, MemoryLimit: 2}

	got := r.Retrieve(context.Background(), baseContext(), p, "q")
	if len(got) != 2 {
		t.Fatalf("got %d memories, want 2", len(got))
	}
	if got[0].ID != 2 || got[1].ID != 4 {
		t.Fatalf("wrong order or selection: %+v", got)
	}
}

func TestRetrieveShortTermBuffer(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeSearcher{entries: []models.MemoryEntry{
		{ID: 1, Score: 0.9, Content: "old", CreatedAt: now.Add(-time.Hour)},
		{ID: 2, Score: 0.9, Content: "just said", CreatedAt: now.Add(-5 * time.Second)},
		{ID: 3, Score: 0.9, Content: "inside buffer", CreatedAt: now.Add(-12 * time.Second)},
	}}
	r := NewRetriever(store, nil)
	p := &models.LoadedPersonality{MemoryScoreThreshold: 0.5}

	rc := baseContext()
	rc.ConversationHistory = []models.ChatMessage{
		{Content: "oldest stm", CreatedAt: now},
		{Content: "newer", CreatedAt: now.Add(time.Minute)},
	}

	got := r.Retrieve(context.Background(), rc, p, "q")
	// cutoff is oldest history minus the 10s buffer: the -5s entry is
	// excluded, the -12s entry predates the buffer and survives
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Fatalf("buffer filtering wrong: %+v", got)
	}
}

func TestRetrieveIncognitoStillRetrieves(t *testing.T) {
	store := &fakeSearcher{entries: []models.MemoryEntry{{ID: 1, Score: 0.9, CreatedAt: time.Now().Add(-time.Hour)}}}
	r := NewRetriever(store, nil)
	rc := baseContext()
	rc.IncognitoMode = true

	got := r.Retrieve(context.Background(), rc, &models.LoadedPersonality{MemoryScoreThreshold: 0.5}, "q")
	if len(got) != 1 {
		t.Fatalf("incognito mode must not gate retrieval, got %+v", got)
	}
}

func TestRetrieveFailureDegrades(t *testing.T) {
	store := &fakeSearcher{err: errors.New("disk on fire")}
	r := NewRetriever(store, nil)

	if got := r.Retrieve(context.Background(), baseContext(), &models.LoadedPersonality{}, "q"); got != nil {
		t.Fatalf("failure should degrade to empty, got %+v", got)
	}
}

func TestRetrieveScopeIncludesReferencedChannels(t *testing.T) {
	store := &fakeSearcher{}
	r := NewRetriever(store, nil)
	rc := baseContext()
	rc.ReferencedChannels = []string{"c2", "c3"}

	r.Retrieve(context.Background(), rc, &models.LoadedPersonality{}, "q")
	if len(store.gotChannels) != 3 || store.gotChannels[0] != "c1" {
		t.Fatalf("search scope wrong: %v", store.gotChannels)
	}
}
