package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/markai/markai/pkg/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LONG-TERM MEMORY
// ═══════════════════════════════════════════════════════════════════════════════

// StoreLongTerm upserts consolidated memory items for a conversation. Items
// are merged with any pre-existing rows; on key collision the new value wins.
// The batch is written in one transaction so readers see either the old or
// the new memory set, never a partial merge.
func (s *Store) StoreLongTerm(ctx context.Context, convID string, items []types.MemoryItem) error {
	if len(items) == 0 {
		return nil
	}

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, item := range items {
			valueJSON, err := json.Marshal(item.Value)
			if err != nil {
				return fmt.Errorf("marshal value for key %q: %w", item.Key, err)
			}

			consolidatedAt := item.ConsolidatedAt
			if consolidatedAt.IsZero() {
				consolidatedAt = time.Now().UTC()
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO long_term_memory (conversation_id, key, value_json, strength, consolidated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (conversation_id, key) DO UPDATE SET
					value_json = excluded.value_json,
					strength = excluded.strength,
					consolidated_at = excluded.consolidated_at`,
				convID, item.Key, string(valueJSON), item.Strength, consolidatedAt); err != nil {
				return storageErrorf(fmt.Sprintf("upsert memory key %q", item.Key), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Debug().Str("conversation_id", convID).Int("items", len(items)).Msg("long-term memory stored")
	return nil
}

// LongTermMemory retrieves all consolidated memory for a conversation,
// strongest first. Unknown conversations yield an empty slice.
func (s *Store) LongTermMemory(ctx context.Context, convID string) ([]types.MemoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, key, value_json, strength, consolidated_at
		FROM long_term_memory
		WHERE conversation_id = ?
		ORDER BY strength DESC, key ASC`, convID)
	if err != nil {
		return nil, storageErrorf("query long-term memory", err)
	}
	defer rows.Close()

	items := []types.MemoryItem{}
	for rows.Next() {
		var item types.MemoryItem
		var valueJSON string

		if err := rows.Scan(&item.ConversationID, &item.Key, &valueJSON, &item.Strength, &item.ConsolidatedAt); err != nil {
			return nil, storageErrorf("scan memory item", err)
		}
		if err := json.Unmarshal([]byte(valueJSON), &item.Value); err != nil {
			return nil, fmt.Errorf("unmarshal value for key %q: %w", item.Key, err)
		}

		items = append(items, item)
	}

	return items, rows.Err()
}
