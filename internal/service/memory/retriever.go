package memory

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"personagen/internal/models"
)

// stmBuffer excludes memories written within this window of the oldest
// short-term-history message, so the same event cannot appear both as
// live history and as a stale memory.
const stmBuffer = 10 * time.Second

type Searcher interface {
	Search(ctx context.Context, personalityID int64, userID string, channelIDs []string, query string, limit int) ([]models.MemoryEntry, error)
}

// Retriever performs similarity-scored long-term memory lookup for the
// active persona.
type Retriever struct {
	store  Searcher
	logger *zap.Logger
}

func NewRetriever(store Searcher, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: store, logger: logger}
}

// Retrieve returns memories filtered to the personality's score
// threshold, capped at its limit, sorted by score descending.
//
// Focus mode disables retrieval entirely. Incognito mode does not
// affect retrieval (it only gates memory writes). Retrieval failure
// degrades to an empty set.
func (r *Retriever) Retrieve(ctx context.Context, rc *models.RequestContext, p *models.LoadedPersonality, query string) []models.MemoryEntry {
	if rc.FocusMode {
		return nil
	}
	limit := p.MemoryLimit
	if limit <= 0 {
		limit = 5
	}

	scope := append([]string{rc.Environment.ChannelID}, rc.ReferencedChannels...)
	entries, err := r.store.Search(ctx, p.ID, rc.User.DiscordID, scope, query, limit)
	if err != nil {
		r.logger.Warn("memory retrieval failed, proceeding without memories", zap.Error(err))
		return nil
	}

	cutoff := historyCutoff(rc.ConversationHistory)
	filtered := entries[:0]
	for _, e := range entries {
		if e.Score < p.MemoryScoreThreshold {
			continue
		}
		if !cutoff.IsZero() && !e.CreatedAt.Before(cutoff) {
			// already present as live history
			continue
		}
		filtered = append(filtered, e)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

// historyCutoff is the oldest short-term message timestamp minus the
// fixed buffer; memories at or after it are excluded.
func historyCutoff(history []models.ChatMessage) time.Time {
	if len(history) == 0 {
		return time.Time{}
	}
	oldest := history[0].CreatedAt
	for _, m := range history[1:] {
		if m.CreatedAt.Before(oldest) {
			oldest = m.CreatedAt
		}
	}
	if oldest.IsZero() {
		return time.Time{}
	}
	return oldest.Add(-stmBuffer)
}
