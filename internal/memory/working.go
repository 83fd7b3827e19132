package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/markai/markai/pkg/types"
)

// DefaultConsolidationThreshold is the minimum strength
// (importance * access_count) an item needs to be promoted to long-term
// storage.
const DefaultConsolidationThreshold = 2.0

// LongTermStore receives consolidated memory items. *data.Store satisfies
// this.
type LongTermStore interface {
	StoreLongTerm(ctx context.Context, convID string, items []types.MemoryItem) error
}

// Item is a single working-memory fact scoped to one conversation.
type Item struct {
	Value        any
	Importance   float64
	AccessCount  int
	CreatedAt    time.Time
	LastAccessed time.Time
}

// Strength is the consolidation eligibility score.
func (it *Item) Strength() float64 {
	return it.Importance * float64(it.AccessCount)
}

// WorkingMemory is a process-local, per-conversation fact cache. It is
// best-effort auxiliary state, not a source of truth: operations on unknown
// conversations or keys are no-ops returning defaults, never errors.
//
// Construct one per process and inject it where needed; there is no package
// singleton.
type WorkingMemory struct {
	mu        sync.RWMutex
	items     map[string]map[string]*Item
	longTerm  LongTermStore
	threshold float64
}

// Config configures the working-memory cache.
type Config struct {
	// ConsolidationThreshold overrides DefaultConsolidationThreshold when > 0.
	ConsolidationThreshold float64
}

// NewWorkingMemory creates a working-memory cache that consolidates strong
// items into the given long-term store.
func NewWorkingMemory(longTerm LongTermStore, cfg Config) *WorkingMemory {
	threshold := cfg.ConsolidationThreshold
	if threshold <= 0 {
		threshold = DefaultConsolidationThreshold
	}

	return &WorkingMemory{
		items:     make(map[string]map[string]*Item),
		longTerm:  longTerm,
		threshold: threshold,
	}
}

// Update upserts a fact. An overwrite resets the access count to 1: access
// history is preserved across reads but not across updates, so a rewritten
// fact has to earn its consolidation strength again.
func (w *WorkingMemory) Update(convID, key string, value any, importance float64) {
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	conv, ok := w.items[convID]
	if !ok {
		conv = make(map[string]*Item)
		w.items[convID] = conv
	}

	conv[key] = &Item{
		Value:        value,
		Importance:   importance,
		AccessCount:  1,
		CreatedAt:    now,
		LastAccessed: now,
	}
}

// Get returns the value for a key, incrementing its access count.
// The second return is false for unknown conversations or keys.
func (w *WorkingMemory) Get(convID, key string) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	item, ok := w.items[convID][key]
	if !ok {
		return nil, false
	}

	item.AccessCount++
	item.LastAccessed = time.Now()
	return item.Value, true
}

// GetAll returns a snapshot of every fact in a conversation, incrementing
// each access count. Unknown conversations yield an empty map.
func (w *WorkingMemory) GetAll(convID string) map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()

	snapshot := make(map[string]any, len(w.items[convID]))
	now := time.Now()
	for key, item := range w.items[convID] {
		item.AccessCount++
		item.LastAccessed = now
		snapshot[key] = item.Value
	}
	return snapshot
}

// Consolidate copies every fact whose strength exceeds the threshold into
// long-term storage, merged with pre-existing entries (new values win on key
// collision). Consolidation is additive: working memory is NOT cleared
// afterward, matching the behavior this system has always had. Strong facts
// in an active conversation therefore consolidate repeatedly and working
// memory only shrinks through age-based cleanup.
func (w *WorkingMemory) Consolidate(ctx context.Context, convID string) error {
	now := time.Now().UTC()

	w.mu.RLock()
	var strong []types.MemoryItem
	for key, item := range w.items[convID] {
		if strength := item.Strength(); strength > w.threshold {
			strong = append(strong, types.MemoryItem{
				ConversationID: convID,
				Key:            key,
				Value:          item.Value,
				Strength:       strength,
				ConsolidatedAt: now,
			})
		}
	}
	w.mu.RUnlock()

	if len(strong) == 0 {
		return nil
	}

	if err := w.longTerm.StoreLongTerm(ctx, convID, strong); err != nil {
		return fmt.Errorf("store consolidated memory: %w", err)
	}

	log.Info().Str("conversation_id", convID).Int("items", len(strong)).Msg("working memory consolidated")
	return nil
}

// CleanupOlderThan removes facts last touched before the cutoff, then drops
// any conversation map left empty. Mutation is whole-map-granular under the
// write lock, so a concurrent reader sees the pre- or post-cleanup state,
// never a partial one. Returns the number of facts removed.
func (w *WorkingMemory) CleanupOlderThan(days int) int {
	cutoff := time.Now().AddDate(0, 0, -days)

	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for convID, conv := range w.items {
		for key, item := range conv {
			if item.LastAccessed.Before(cutoff) {
				delete(conv, key)
				removed++
			}
		}
		if len(conv) == 0 {
			delete(w.items, convID)
		}
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Int("days", days).Msg("working memory cleaned")
	}
	return removed
}

// Stats summarizes cache occupancy.
type Stats struct {
	ActiveConversations int `json:"active_conversations"`
	TotalItems          int `json:"total_items"`
}

// Stats returns current cache occupancy.
func (w *WorkingMemory) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := Stats{ActiveConversations: len(w.items)}
	for _, conv := range w.items {
		stats.TotalItems += len(conv)
	}
	return stats
}

// Clear empties the cache. Intended for shutdown.
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = make(map[string]map[string]*Item)
}
