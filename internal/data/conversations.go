package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/markai/markai/pkg/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONVERSATION REGISTRY
// ═══════════════════════════════════════════════════════════════════════════════

// CreateConversation registers a new conversation for the given user and
// returns it. If title is empty a timestamp-derived default is used.
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (*types.Conversation, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id cannot be empty", types.ErrValidation)
	}

	now := time.Now().UTC()
	if title == "" {
		title = "Conversation " + now.Format("2006-01-02 15:04")
	}

	conv := &types.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]string{},
	}

	query := `
		INSERT INTO conversations (id, user_id, title, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, '{}')
	`

	if _, err := s.db.ExecContext(ctx, query, conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt); err != nil {
		return nil, storageErrorf("insert conversation", err)
	}

	log.Debug().Str("conversation_id", conv.ID).Str("user_id", userID).Msg("conversation created")
	return conv, nil
}

// GetConversation retrieves a conversation by ID.
// Returns types.ErrNotFound if no such conversation exists.
func (s *Store) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at, metadata
		FROM conversations
		WHERE id = ?
	`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
		}
		return nil, storageErrorf("query conversation", err)
	}

	return conv, nil
}

// ListConversations returns a user's conversations ordered by most recent
// activity first. limit <= 0 means no limit.
func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]*types.Conversation, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at, metadata
		FROM conversations
		WHERE user_id = ?
		ORDER BY updated_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErrorf("list conversations", err)
	}
	defer rows.Close()

	var conversations []*types.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, storageErrorf("scan conversation", err)
		}
		conversations = append(conversations, conv)
	}

	return conversations, rows.Err()
}

// SetTitle updates a conversation's title.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return storageErrorf("update title", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storageErrorf("get rows affected", err)
	}
	if rows == 0 {
		return fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}

	return nil
}

// SetMetadata replaces a conversation's metadata bag.
func (s *Store) SetMetadata(ctx context.Context, id string, metadata map[string]string) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET metadata = ? WHERE id = ?`, string(metaJSON), id)
	if err != nil {
		return storageErrorf("update metadata", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storageErrorf("get rows affected", err)
	}
	if rows == 0 {
		return fmt.Errorf("conversation %s: %w", id, types.ErrNotFound)
	}

	return nil
}

// DeleteConversation removes a conversation together with all of its
// messages and consolidated memory, in one transaction. Returns false
// (not an error) if the conversation did not exist.
func (s *Store) DeleteConversation(ctx context.Context, id string) (bool, error) {
	var deleted bool

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
			return storageErrorf("delete messages", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM long_term_memory WHERE conversation_id = ?`, id); err != nil {
			return storageErrorf("delete long-term memory", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
		if err != nil {
			return storageErrorf("delete conversation", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return storageErrorf("get rows affected", err)
		}
		deleted = rows > 0
		return nil
	})
	if err != nil {
		return false, err
	}

	if deleted {
		log.Info().Str("conversation_id", id).Msg("conversation deleted")
	}
	return deleted, nil
}

// CleanupConversations deletes conversations (and their messages and
// long-term memory) whose updated_at is older than the given number of days.
// The whole sweep runs in one transaction so concurrent readers never see a
// half-deleted conversation. Returns the number of conversations removed.
func (s *Store) CleanupConversations(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("%w: days cannot be negative", types.ErrValidation)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var count int64

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM messages WHERE conversation_id IN (
				SELECT id FROM conversations WHERE updated_at < ?
			)`, cutoff); err != nil {
			return storageErrorf("delete stale messages", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM long_term_memory WHERE conversation_id IN (
				SELECT id FROM conversations WHERE updated_at < ?
			)`, cutoff); err != nil {
			return storageErrorf("delete stale long-term memory", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, cutoff)
		if err != nil {
			return storageErrorf("delete stale conversations", err)
		}

		count, err = result.RowsAffected()
		if err != nil {
			return storageErrorf("get rows affected", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if count > 0 {
		log.Info().Int64("count", count).Int("days", days).Msg("cleaned up stale conversations")
	}
	return count, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*types.Conversation, error) {
	var conv types.Conversation
	var metaJSON string

	if err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt, &metaJSON); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(metaJSON), &conv.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	return &conv, nil
}
