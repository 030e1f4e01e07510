package models

import "time"

// ChatMessage is one turn of conversation history attached to a request.

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type ChatMessage struct {
	MessageID  string    `json:"message_id,omitempty"`
	AuthorID   string    `json:"author_id,omitempty"`
	AuthorName string    `json:"author_name,omitempty"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Tokens     int       `json:"tokens,omitempty"` // pre-counted when the producer knows it
	CreatedAt  time.Time `json:"created_at"`
}
