package prompt

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"personagen/internal/jobs"
	"personagen/internal/models"
)

// Assemble renders the exact ordered message list sent to the model:
// system turn, then the admitted history interleaved chronologically,
// then the triggering message with referenced-message content and
// dependency results folded in. The returned slice is shared verbatim
// between the executor and the flight recorder; the two must never
// diverge.
func Assemble(job *jobs.LLMGenerationJobData, alloc Allocation) []*schema.Message {
	out := make([]*schema.Message, 0, len(alloc.History)+2)
	out = append(out, &schema.Message{
		Role:    schema.System,
		Content: systemContent(&job.Personality, &job.Context, alloc.Memories),
	})

	for _, m := range alloc.History {
		out = append(out, &schema.Message{
			Role:    historyRole(m.Role),
			Content: historyContent(m),
		})
	}

	out = append(out, &schema.Message{
		Role:    schema.User,
		Content: userContent(job),
	})
	return out
}

// SystemText renders the fixed part of the system turn: prompt,
// character info and the participants block. Allocation prices this
// exact string, so the assembled turn can never cost more than the
// budget accounted for.
func SystemText(p *models.LoadedPersonality, rc *models.RequestContext) string {
	var b strings.Builder
	b.WriteString(p.SystemPrompt)
	if p.CharacterInfo != "" {
		b.WriteString("\n\n")
		b.WriteString(p.CharacterInfo)
	}
	if len(rc.GuildMembers) > 0 {
		b.WriteString("\n\nConversation participants:")
		for _, gm := range rc.GuildMembers {
			b.WriteString("\n- ")
			b.WriteString(gm.DisplayName)
			if len(gm.Roles) > 0 {
				b.WriteString(" (")
				b.WriteString(strings.Join(gm.Roles, ", "))
				b.WriteString(")")
			}
		}
	}
	return b.String()
}

const memoriesHeader = "\n\nRelevant memories:"

func memoryLine(m models.MemoryEntry) string {
	return "\n- " + m.Content
}

func systemContent(p *models.LoadedPersonality, rc *models.RequestContext, memories []models.MemoryEntry) string {
	var b strings.Builder
	b.WriteString(SystemText(p, rc))
	if len(memories) > 0 {
		b.WriteString(memoriesHeader)
		for _, m := range memories {
			b.WriteString(memoryLine(m))
		}
	}
	return b.String()
}

func historyRole(r models.Role) schema.RoleType {
	switch r {
	case models.RoleAssistant:
		return schema.Assistant
	case models.RoleSystem:
		return schema.System
	default:
		return schema.User
	}
}

func historyContent(m models.ChatMessage) string {
	if m.Role == models.RoleUser && m.AuthorName != "" {
		return m.AuthorName + ": " + m.Content
	}
	return m.Content
}

func userContent(job *jobs.LLMGenerationJobData) string {
	var b strings.Builder
	b.WriteString(job.Message.Text)

	for _, ref := range job.Context.ReferencedMessages {
		b.WriteString("\n\n")
		b.WriteString(referenceBlock(ref, job.Context.Preprocessed))
	}

	for _, att := range job.Message.Attachments {
		if att.Kind == "" || att.Kind == models.AttachmentOther {
			continue
		}
		b.WriteString(fmt.Sprintf("\n[Attached %s: %s]", att.Kind, att.Name))
	}
	return b.String()
}

// referenceBlock attributes dependency results to the referenced
// message they came from via the reference number.
func referenceBlock(ref models.ReferencedMessage, preprocessed map[int]models.PreprocessedAttachment) string {
	var b strings.Builder
	author := ref.AuthorName
	if author == "" {
		author = ref.AuthorID
	}
	b.WriteString(fmt.Sprintf("[Referenced message #%d from %s: %s]", ref.ReferenceNumber, author, ref.Content))

	if pre, ok := preprocessed[ref.ReferenceNumber]; ok {
		switch {
		case pre.Unavailable:
			b.WriteString(fmt.Sprintf("\n[Attachment for #%d unavailable]", ref.ReferenceNumber))
		case pre.Kind == models.PreprocessedTranscript:
			b.WriteString(fmt.Sprintf("\n[Audio transcript #%d: %s]", ref.ReferenceNumber, pre.Content))
		case pre.Kind == models.PreprocessedDescription:
			b.WriteString(fmt.Sprintf("\n[Image description #%d: %s]", ref.ReferenceNumber, pre.Content))
		}
	}
	return b.String()
}
