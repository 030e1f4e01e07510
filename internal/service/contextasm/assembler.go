package contextasm

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"personagen/internal/models"
)

const (
	defaultMaxMessages = 40
	defaultMaxAge      = 0 // no age window unless the personality narrows it
)

// HistorySource is the upstream chat history. History is a quality
// enhancement, not a correctness requirement; lookup failures degrade
// to an empty history.
type HistorySource interface {
	Recent(ctx context.Context, channelID string, limit int, since time.Time) ([]models.ChatMessage, error)
}

// Assembler populates a RequestContext from the triggering message and
// its Discord-level surroundings.
type Assembler struct {
	history HistorySource
	logger  *zap.Logger
}

func New(history HistorySource, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{history: history, logger: logger}
}

// Assemble normalizes the raw context in place: fills conversation
// history subject to the personality's caps, classifies attachments by
// content type, and assigns stable 1-based reference numbers.
func (a *Assembler) Assemble(ctx context.Context, rc *models.RequestContext, p *models.LoadedPersonality) {
	a.fillHistory(ctx, rc, p)
	ClassifyAttachments(rc.Attachments)
	for i := range rc.ReferencedMessages {
		ClassifyAttachments(rc.ReferencedMessages[i].Attachments)
	}
	NumberReferences(rc.ReferencedMessages)
}

func (a *Assembler) fillHistory(ctx context.Context, rc *models.RequestContext, p *models.LoadedPersonality) {
	if len(rc.ConversationHistory) > 0 || a.history == nil {
		// producer already attached history; only apply the caps
		rc.ConversationHistory = capHistory(rc.ConversationHistory, p)
		return
	}
	limit := defaultMaxMessages
	if p != nil && p.ExtendedContextMaxMessages > 0 {
		limit = p.ExtendedContextMaxMessages
	}
	var since time.Time
	if p != nil && p.ExtendedContextMaxAgeMinutes > 0 {
		since = time.Now().Add(-time.Duration(p.ExtendedContextMaxAgeMinutes) * time.Minute)
	}
	msgs, err := a.history.Recent(ctx, rc.Environment.ChannelID, limit, since)
	if err != nil {
		a.logger.Warn("history lookup failed, proceeding with empty history",
			zap.String("channel_id", rc.Environment.ChannelID), zap.Error(err))
		rc.ConversationHistory = nil
		return
	}
	rc.ConversationHistory = msgs
}

func capHistory(history []models.ChatMessage, p *models.LoadedPersonality) []models.ChatMessage {
	limit := defaultMaxMessages
	if p != nil && p.ExtendedContextMaxMessages > 0 {
		limit = p.ExtendedContextMaxMessages
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	if p != nil && p.ExtendedContextMaxAgeMinutes > 0 {
		cutoff := time.Now().Add(-time.Duration(p.ExtendedContextMaxAgeMinutes) * time.Minute)
		first := 0
		for first < len(history) && history[first].CreatedAt.Before(cutoff) {
			first++
		}
		history = history[first:]
	}
	return history
}

// ClassifyAttachments fills in the Kind field from the content type.
func ClassifyAttachments(atts []models.Attachment) {
	for i := range atts {
		if atts[i].Kind != "" {
			continue
		}
		atts[i].Kind = classify(atts[i].ContentType)
	}
}

func classify(contentType string) models.AttachmentKind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return models.AttachmentImage
	case strings.HasPrefix(ct, "audio/"), strings.HasPrefix(ct, "video/"):
		return models.AttachmentAudio
	default:
		return models.AttachmentOther
	}
}

// NumberReferences assigns 1-based reference numbers in order,
// preserving numbers the producer already assigned.
func NumberReferences(refs []models.ReferencedMessage) {
	next := 1
	taken := make(map[int]bool, len(refs))
	for _, r := range refs {
		if r.ReferenceNumber > 0 {
			taken[r.ReferenceNumber] = true
		}
	}
	for i := range refs {
		if refs[i].ReferenceNumber > 0 {
			continue
		}
		for taken[next] {
			next++
		}
		refs[i].ReferenceNumber = next
		taken[next] = true
	}
}
