package models

import "time"

type EnvironmentKind string

const (
	EnvironmentDM    EnvironmentKind = "dm"
	EnvironmentGuild EnvironmentKind = "guild"
)

type UserIdentity struct {
	DiscordID  string `json:"discord_id"`
	InternalID int64  `json:"internal_id"`
}

type Environment struct {
	Kind      EnvironmentKind `json:"kind"`
	GuildID   string          `json:"guild_id,omitempty"`
	ChannelID string          `json:"channel_id"`
	ThreadID  string          `json:"thread_id,omitempty"`
}

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentOther AttachmentKind = "other"
)

type Attachment struct {
	URL         string         `json:"url"`
	Name        string         `json:"name,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Size        int64          `json:"size,omitempty"`
	Kind        AttachmentKind `json:"kind,omitempty"`
}

// ReferencedMessage is a reply or message link resolved at intake.
// ReferenceNumber is 1-based and stable for the lifetime of one
// request so dependency results can be correlated back to it.
type ReferencedMessage struct {
	ReferenceNumber int          `json:"reference_number"`
	MessageID       string       `json:"message_id"`
	AuthorID        string       `json:"author_id,omitempty"`
	AuthorName      string       `json:"author_name,omitempty"`
	Content         string       `json:"content"`
	Attachments     []Attachment `json:"attachments,omitempty"`
}

type GuildMemberMeta struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Roles       []string  `json:"roles,omitempty"`
	Color       string    `json:"color,omitempty"`
	JoinedAt    time.Time `json:"joined_at,omitempty"`
}

type PreprocessedKind string

const (
	PreprocessedTranscript  PreprocessedKind = "transcript"
	PreprocessedDescription PreprocessedKind = "description"
)

// PreprocessedAttachment is a dependency result merged into the job,
// keyed by the reference number of the message it belongs to.
type PreprocessedAttachment struct {
	SourceReferenceNumber int              `json:"source_reference_number"`
	Kind                  PreprocessedKind `json:"kind"`
	Content               string           `json:"content"`
	Unavailable           bool             `json:"unavailable,omitempty"`
	CompletedAt           time.Time        `json:"completed_at"`
}

// RequestContext carries everything known about the conversational
// situation when a personality was triggered.
//
// ConversationHistory is chronologically ordered oldest to newest.
type RequestContext struct {
	User        UserIdentity    `json:"user"`
	Environment Environment     `json:"environment"`

	ConversationHistory []ChatMessage       `json:"conversation_history,omitempty"`
	Attachments         []Attachment        `json:"attachments,omitempty"`
	ReferencedMessages  []ReferencedMessage `json:"referenced_messages,omitempty"`
	MentionedPersonas   []string            `json:"mentioned_personas,omitempty"`
	ReferencedChannels  []string            `json:"referenced_channels,omitempty"`
	GuildMembers        []GuildMemberMeta   `json:"guild_members,omitempty"`

	Preprocessed map[int]PreprocessedAttachment `json:"preprocessed,omitempty"`

	FocusMode     bool `json:"focus_mode,omitempty"`
	IncognitoMode bool `json:"incognito_mode,omitempty"`
}
