package prompt

import (
	"fmt"

	"personagen/internal/models"
)

// DefaultContextWindow applies when the personality does not set one.
const DefaultContextWindow = 8192

// Allocation is the outcome of apportioning the context window.
// History is chronological; Memories are score-descending. Dropped
// counts are always recorded even though dropped items are excluded
// from the prompt silently.
type Allocation struct {
	Budget       int
	SystemTokens int
	History      []models.ChatMessage
	Memories     []models.MemoryEntry

	HistoryTokens          int
	MemoryTokens           int
	HistoryMessagesDropped int
	MemoriesDropped        int
}

func (a Allocation) TotalTokens() int {
	return a.SystemTokens + a.HistoryTokens + a.MemoryTokens
}

// Allocate apportions the token budget in strict priority order:
// system text (never dropped), then conversation history from the
// most recent backwards, then memories highest score first. Each tier
// admits greedily and closes on the first item that would overflow.
//
// systemText must be the fully rendered fixed system turn (see
// SystemText); history and memories are priced exactly as the
// assembler renders them, so the assembled prompt never exceeds the
// budget.
//
// The computation is pure: for fixed inputs the allocation is
// reproducible.
func Allocate(budget int, systemText string, history []models.ChatMessage, memories []models.MemoryEntry) (Allocation, error) {
	if budget <= 0 {
		budget = DefaultContextWindow
	}
	alloc := Allocation{Budget: budget, SystemTokens: EstimateTokens(systemText)}

	remaining := budget - alloc.SystemTokens
	if remaining < 0 {
		return alloc, fmt.Errorf("system prompt (%d tokens) exceeds context window (%d)", alloc.SystemTokens, budget)
	}

	// newest backwards; admitted slice rebuilt chronologically below
	admitted := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := messageTokens(history[i])
		if cost > remaining {
			break
		}
		remaining -= cost
		alloc.HistoryTokens += cost
		admitted++
	}
	alloc.History = history[len(history)-admitted:]
	alloc.HistoryMessagesDropped = len(history) - admitted

	// Memories are priced as rendered in the system turn: the list
	// header once, then one bulleted line each.
	for i := range memories {
		cost := EstimateTokens(memoryLine(memories[i]))
		if len(alloc.Memories) == 0 {
			cost += EstimateTokens(memoriesHeader)
		}
		if cost > remaining {
			alloc.MemoriesDropped = len(memories) - i
			break
		}
		remaining -= cost
		alloc.MemoryTokens += cost
		m := memories[i]
		m.Included = true
		alloc.Memories = append(alloc.Memories, m)
	}

	return alloc, nil
}
