package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"personagen/internal/models"
)

// Store is the conversation history backing the context assembler.
// Reads are shared across concurrent jobs; each request only writes
// rows for its own channel.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Recent returns up to limit messages for a channel, oldest first.
// A zero since means no age filtering.
func (s *Store) Recent(ctx context.Context, channelID string, limit int, since time.Time) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT message_id, author_id, author_name, role, content, tokens, created_at
	          FROM channel_messages WHERE channel_id = ?`
	args := []any{channelID}
	if !since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list channel messages: %w", err)
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var (
			m          models.ChatMessage
			authorName sql.NullString
		)
		if err := rows.Scan(&m.MessageID, &m.AuthorID, &authorName, &m.Role, &m.Content, &m.Tokens, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel message: %w", err)
		}
		if authorName.Valid {
			m.AuthorName = authorName.String
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse into chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Append records a message; duplicates by (channel, message id) are ignored.
func (s *Store) Append(ctx context.Context, channelID string, m models.ChatMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_messages (channel_id, message_id, author_id, author_name, role, content, tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(channel_id, message_id) DO NOTHING`,
		channelID, m.MessageID, m.AuthorID, m.AuthorName, m.Role, m.Content, m.Tokens, m.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append channel message: %w", err)
	}
	return nil
}
