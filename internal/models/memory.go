package models

import "time"

// MemoryEntry is one retrieved long-term memory. Included is decided
// by the token budget allocator, not the retriever.
type MemoryEntry struct {
	ID        int64     `json:"id"`
	Score     float64   `json:"score"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Included  bool      `json:"included"`
}
