package contextasm

import (
	"context"
	"errors"
	"testing"
	"time"

	"personagen/internal/models"
)

type fakeHistorySource struct {
	msgs     []models.ChatMessage
	err      error
	gotLimit int
}

func (f *fakeHistorySource) Recent(_ context.Context, _ string, limit int, _ time.Time) ([]models.ChatMessage, error) {
	f.gotLimit = limit
	return f.msgs, f.err
}

func TestAssembleFillsHistory(t *testing.T) {
	src := &fakeHistorySource{msgs: []models.ChatMessage{
		{MessageID: "1", Content: "first"},
		{MessageID: "2", Content: "second"},
	}}
	a := New(src, nil)
	rc := &models.RequestContext{Environment: models.Environment{ChannelID: "c1"}}

	a.Assemble(context.Background(), rc, &models.LoadedPersonality{})
	if len(rc.ConversationHistory) != 2 {
		t.Fatalf("history = %d messages, want 2", len(rc.ConversationHistory))
	}
	if src.gotLimit != defaultMaxMessages {
		t.Fatalf("limit = %d, want %d", src.gotLimit, defaultMaxMessages)
	}
}

func TestAssemblePersonalityNarrowsLimit(t *testing.T) {
	src := &fakeHistorySource{}
	a := New(src, nil)
	rc := &models.RequestContext{Environment: models.Environment{ChannelID: "c1"}}

	a.Assemble(context.Background(), rc, &models.LoadedPersonality{ExtendedContextMaxMessages: 12})
	if src.gotLimit != 12 {
		t.Fatalf("limit = %d, want 12", src.gotLimit)
	}
}

func TestAssembleHistoryFailureDegrades(t *testing.T) {
	src := &fakeHistorySource{err: errors.New("db gone")}
	a := New(src, nil)
	rc := &models.RequestContext{Environment: models.Environment{ChannelID: "c1"}}

	a.Assemble(context.Background(), rc, &models.LoadedPersonality{})
	if rc.ConversationHistory != nil {
		t.Fatalf("failure should leave empty history, got %d messages", len(rc.ConversationHistory))
	}
}

func TestAssembleCapsProducerHistory(t *testing.T) {
	a := New(nil, nil)
	rc := &models.RequestContext{}
	for i := 0; i < 10; i++ {
		rc.ConversationHistory = append(rc.ConversationHistory, models.ChatMessage{
			MessageID: string(rune('a' + i)),
		})
	}

	a.Assemble(context.Background(), rc, &models.LoadedPersonality{ExtendedContextMaxMessages: 4})
	if len(rc.ConversationHistory) != 4 {
		t.Fatalf("history = %d, want 4", len(rc.ConversationHistory))
	}
	if rc.ConversationHistory[0].MessageID != "g" {
		t.Fatalf("kept the wrong end of history: %+v", rc.ConversationHistory)
	}
}

func TestClassifyAttachments(t *testing.T) {
	atts := []models.Attachment{
		{URL: "a", ContentType: "image/png"},
		{URL: "b", ContentType: "audio/ogg"},
		{URL: "c", ContentType: "video/mp4"},
		{URL: "d", ContentType: "application/pdf"},
		{URL: "e", ContentType: "image/jpeg", Kind: models.AttachmentOther}, // producer override kept
	}
	ClassifyAttachments(atts)

	want := []models.AttachmentKind{
		models.AttachmentImage,
		models.AttachmentAudio,
		models.AttachmentAudio,
		models.AttachmentOther,
		models.AttachmentOther,
	}
	for i, w := range want {
		if atts[i].Kind != w {
			t.Fatalf("attachment %d kind = %s, want %s", i, atts[i].Kind, w)
		}
	}
}

func TestNumberReferences(t *testing.T) {
	refs := []models.ReferencedMessage{
		{MessageID: "m1"},
		{MessageID: "m2", ReferenceNumber: 2},
		{MessageID: "m3"},
	}
	NumberReferences(refs)

	if refs[0].ReferenceNumber != 1 {
		t.Fatalf("first reference = %d, want 1", refs[0].ReferenceNumber)
	}
	if refs[1].ReferenceNumber != 2 {
		t.Fatalf("producer-assigned number changed: %d", refs[1].ReferenceNumber)
	}
	if refs[2].ReferenceNumber != 3 {
		t.Fatalf("third reference = %d, want 3", refs[2].ReferenceNumber)
	}

	// numbering is idempotent
	NumberReferences(refs)
	if refs[0].ReferenceNumber != 1 || refs[1].ReferenceNumber != 2 || refs[2].ReferenceNumber != 3 {
		t.Fatalf("renumbering changed assignments: %+v", refs)
	}
}
