package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/markai/markai/pkg/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MESSAGE STORE
// ═══════════════════════════════════════════════════════════════════════════════

// AppendMessage durably appends a message to a conversation and refreshes
// the conversation's updated_at in the same transaction, so no reader can
// observe the new message with a stale timestamp. Every call creates a new
// row; messages are never updated in place.
//
// Returns types.ErrNotFound if the conversation does not exist and
// types.ErrValidation for an invalid role or empty content.
func (s *Store) AppendMessage(ctx context.Context, convID string, role types.Role, content string, meta map[string]any) (*types.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: invalid role %q", types.ErrValidation, role)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: content cannot be empty", types.ErrValidation)
	}

	msg := &types.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Role:           role,
		Content:        content,
		Timestamp:      time.Now().UTC(),
		Metadata:       meta,
	}

	// Typed columns for the fields stats aggregates over. They also stay
	// in the JSON bag so exports round-trip the full metadata.
	var tokensUsed, processingTime, confidence any
	if meta != nil {
		if v, ok := toInt(meta["tokens_used"]); ok {
			msg.TokensUsed = v
			tokensUsed = v
		}
		if v, ok := toFloat(meta["processing_time"]); ok {
			msg.ProcessingTime = v
			processingTime = v
		}
		if v, ok := toFloat(meta["confidence"]); ok {
			msg.Confidence = v
			confidence = v
		}
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if meta == nil {
		metaJSON = []byte("{}")
	}

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM conversations WHERE id = ?`, convID).Scan(&exists); err != nil {
			return storageErrorf("check conversation", err)
		}
		if exists == 0 {
			return fmt.Errorf("conversation %s: %w", convID, types.ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, timestamp, metadata,
			                      tokens_used, processing_time, confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.Timestamp,
			string(metaJSON), tokensUsed, processingTime, confidence); err != nil {
			return storageErrorf("insert message", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`,
			msg.Timestamp, convID); err != nil {
			return storageErrorf("refresh updated_at", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("message_id", msg.ID).
		Str("conversation_id", convID).
		Str("role", string(role)).
		Msg("message appended")
	return msg, nil
}

// History returns a conversation's messages in chronological order (oldest
// first). limit <= 0 means all messages; offset pages over that order.
// Unknown or empty conversations yield an empty slice, not an error.
func (s *Store) History(ctx context.Context, convID string, limit, offset int) ([]*types.Message, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit cannot be negative", types.ErrValidation)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset cannot be negative", types.ErrValidation)
	}

	query := `
		SELECT id, conversation_id, role, content, timestamp, metadata,
		       tokens_used, processing_time, confidence
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`
	args := []any{convID}
	if limit > 0 || offset > 0 {
		// SQLite requires LIMIT when OFFSET is present; -1 means unbounded.
		if limit == 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErrorf("query history", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// SearchMessages returns messages across all of a user's conversations whose
// content contains the given substring, most recent first. Matching uses
// SQLite LIKE, which is case-insensitive for ASCII.
func (s *Store) SearchMessages(ctx context.Context, userID, substring string, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT m.id, m.conversation_id, m.role, m.content, m.timestamp, m.metadata,
		       m.tokens_used, m.processing_time, m.confidence
		FROM messages m
		JOIN conversations c ON m.conversation_id = c.id
		WHERE c.user_id = ? AND m.content LIKE ? ESCAPE '\'
		ORDER BY m.timestamp DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, "%"+escapeLike(substring)+"%", limit)
	if err != nil {
		return nil, storageErrorf("search messages", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ConversationStats aggregates stored message metadata for a conversation.
// NULL metadata fields count as zero for totals and are excluded from
// averages (SQL AVG semantics).
func (s *Store) ConversationStats(ctx context.Context, convID string) (*types.ConversationStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(tokens_used), 0),
			COALESCE(AVG(tokens_used), 0),
			COALESCE(AVG(confidence), 0),
			COALESCE(SUM(processing_time), 0)
		FROM messages
		WHERE conversation_id = ?
	`

	var stats types.ConversationStats
	err := s.db.QueryRowContext(ctx, query, convID).Scan(
		&stats.MessageCount,
		&stats.TotalTokens,
		&stats.AvgTokens,
		&stats.AvgConfidence,
		&stats.TotalProcessingTime,
	)
	if err != nil {
		return nil, storageErrorf("query stats", err)
	}

	return &stats, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// EXPORT
// ═══════════════════════════════════════════════════════════════════════════════

// ExportConversation renders a conversation's full history as "json" or
// "markdown". Unknown formats return types.ErrValidation.
func (s *Store) ExportConversation(ctx context.Context, convID, format string) (string, error) {
	messages, err := s.History(ctx, convID, 0, 0)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(format) {
	case "json":
		data, err := json.MarshalIndent(messages, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal messages: %w", err)
		}
		return string(data), nil

	case "markdown":
		var sb strings.Builder
		sb.WriteString("# Conversation " + convID + "\n")
		for _, msg := range messages {
			label := "**User**"
			if msg.Role == types.RoleAssistant {
				label = "**Assistant**"
			}
			sb.WriteString("\n" + label + ": " + msg.Content + "\n")
		}
		return sb.String(), nil

	default:
		return "", fmt.Errorf("%w: unsupported export format %q", types.ErrValidation, format)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func scanMessages(rows *sql.Rows) ([]*types.Message, error) {
	messages := []*types.Message{}
	for rows.Next() {
		var msg types.Message
		var role, metaJSON string
		var tokensUsed sql.NullInt64
		var processingTime, confidence sql.NullFloat64

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content,
			&msg.Timestamp, &metaJSON, &tokensUsed, &processingTime, &confidence); err != nil {
			return nil, storageErrorf("scan message", err)
		}

		msg.Role = types.Role(role)
		if err := json.Unmarshal([]byte(metaJSON), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		if tokensUsed.Valid {
			msg.TokensUsed = int(tokensUsed.Int64)
		}
		if processingTime.Valid {
			msg.ProcessingTime = processingTime.Float64
		}
		if confidence.Valid {
			msg.Confidence = confidence.Float64
		}

		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// escapeLike is intentionally minimal: % and _ in user input would widen the
// match, which is harmless for substring search, but we escape them so a
// literal search behaves literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
