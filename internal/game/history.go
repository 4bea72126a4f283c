// internal/game/history.go
package game

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aquacommander/CasinoGame/internal/cache"
	"github.com/aquacommander/CasinoGame/internal/models"
)

// HistoryEntry is one resolved round in the history feed.
type HistoryEntry struct {
	RoundID    uuid.UUID       `json:"roundId"`
	Game       models.GameType `json:"game"`
	Result     float64         `json:"result"`
	ResolvedAt time.Time       `json:"resolvedAt"`
}

// History is a bounded most-recent-first ring of resolved rounds, mirrored
// to Redis when available.
type History struct {
	mu      sync.Mutex
	game    models.GameType
	max     int
	entries []HistoryEntry
}

// NewHistory creates a ring holding at most max entries.
func NewHistory(game models.GameType, max int) *History {
	return &History{game: game, max: max}
}

// Add records a resolved round, evicting the oldest entry when full.
func (h *History) Add(roundID uuid.UUID, result float64) HistoryEntry {
	entry := HistoryEntry{RoundID: roundID, Game: h.game, Result: result, ResolvedAt: time.Now()}

	h.mu.Lock()
	h.entries = append([]HistoryEntry{entry}, h.entries...)
	if len(h.entries) > h.max {
		h.entries = h.entries[:h.max]
	}
	h.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = cache.PushHistory(ctx, string(h.game), entry, int64(h.max))
	}()
	return entry
}

// Recent returns the entries most-recent-first.
func (h *History) Recent() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}
