package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"personagen/internal/models"
)

// SQLStore keeps long-term memories in the memories table. Recall
// scores by keyword overlap; builds tagged with sqlite_vec register the
// vec extension and can store real embeddings in the blob column.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Search returns candidate memories for the persona/user scored
// against the query, highest score first. ChannelIDs widens the scope
// to referenced channels.
func (s *SQLStore) Search(ctx context.Context, personalityID int64, userID string, channelIDs []string, query string, limit int) ([]models.MemoryEntry, error) {
	keywords := strings.Fields(strings.ToLower(query))
	if len(keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	conditions := make([]string, 0, len(keywords))
	args := []any{personalityID, userID}
	for _, kw := range keywords {
		conditions = append(conditions, "LOWER(content) LIKE ?")
		args = append(args, "%"+kw+"%")
	}
	sqlQuery := fmt.Sprintf(
		`SELECT id, content, created_at FROM memories
		 WHERE personality_id = ? AND user_id = ? AND (%s)
		 ORDER BY created_at DESC LIMIT ?`,
		strings.Join(conditions, " OR "),
	)
	// candidate pool is wider than the final limit so scoring can reorder
	args = append(args, limit*4)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("memory search: %w", err)
	}
	defer rows.Close()

	var results []models.MemoryEntry
	for rows.Next() {
		var entry models.MemoryEntry
		if err := rows.Scan(&entry.ID, &entry.Content, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		entry.Score = overlapScore(keywords, entry.Content)
		results = append(results, entry)
	}
	return results, rows.Err()
}

// Write stores a new memory. Embedding may be nil.
func (s *SQLStore) Write(ctx context.Context, personalityID int64, userID, channelID, content string, embedding []byte) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (personality_id, user_id, channel_id, content, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		personalityID, userID, channelID, content, embedding, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	return nil
}

// overlapScore is the fraction of query keywords present in the
// content, a stand-in similarity in [0, 1].
func overlapScore(keywords []string, content string) float64 {
	lower := strings.ToLower(content)
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}
