// Package types defines shared types used across all MarkAI modules.
package types

import "time"

// ═══════════════════════════════════════════════════════════════════════════════
// TOKEN ESTIMATION
// ═══════════════════════════════════════════════════════════════════════════════

// CharsPerToken is the heuristic for token estimation (~4 chars per token).
// This is a common approximation for English text with LLM tokenizers.
const CharsPerToken = 4

// EstimateTokens provides a rough token estimate for a given text.
func EstimateTokens(text string) int {
	return len(text) / CharsPerToken
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONVERSATION TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one the store accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Conversation is a named, ordered thread of messages belonging to one user.
// ID and UserID are immutable once created; UpdatedAt is refreshed on every
// appended message.
type Conversation struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Title     string            `json:"title"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Message is a single immutable entry in a conversation. Messages are
// append-only: once written they are never edited, only deleted together
// with their parent conversation.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`

	// Typed metadata columns, kept separate from the open bag so stats
	// can aggregate them in SQL.
	TokensUsed     int     `json:"tokens_used,omitempty"`
	ProcessingTime float64 `json:"processing_time,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
}

// ConversationStats aggregates stored message metadata for one conversation.
// Absent metadata fields count as zero and are excluded from averages.
type ConversationStats struct {
	MessageCount        int     `json:"message_count"`
	TotalTokens         int     `json:"total_tokens"`
	AvgTokens           float64 `json:"avg_tokens"`
	AvgConfidence       float64 `json:"avg_confidence"`
	TotalProcessingTime float64 `json:"total_processing_time"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// MEMORY TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// MemoryItem is a consolidated working-memory fact promoted to long-term
// storage. Lookup is by conversation id + key; there is no back-reference
// to the working-memory entry it came from.
type MemoryItem struct {
	ConversationID string    `json:"conversation_id"`
	Key            string    `json:"key"`
	Value          any       `json:"value"`
	Strength       float64   `json:"strength"`
	ConsolidatedAt time.Time `json:"consolidated_at"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// COGNITIVE TAGS
// ═══════════════════════════════════════════════════════════════════════════════

// ReasoningType labels the flavor of reasoning a response was produced with.
// These are inert tags threaded through prompt text and metadata; they carry
// no special-cased logic.
type ReasoningType string

const (
	ReasoningAnalytical ReasoningType = "analytical"
	ReasoningCreative   ReasoningType = "creative"
	ReasoningLogical    ReasoningType = "logical"
	ReasoningEmotional  ReasoningType = "emotional"
	ReasoningStrategic  ReasoningType = "strategic"
	ReasoningEthical    ReasoningType = "ethical"
)

// ProcessingMode selects the speed/quality trade-off requested of the model.
type ProcessingMode string

const (
	ModeFast     ProcessingMode = "fast"
	ModeBalanced ProcessingMode = "balanced"
	ModeDeep     ProcessingMode = "deep"
	ModeCreative ProcessingMode = "creative"
	ModePrecise  ProcessingMode = "precise"
)
