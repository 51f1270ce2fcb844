// Package domain defines the core domain models for the assistant pipeline.
package domain

import (
	"encoding/json"
	"time"
)

// Conversation represents a chat conversation owned by a tenant user.
type Conversation struct {
	ConversationID string    `json:"conversation_id"`
	TenantID       string    `json:"tenant_id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Message represents a single message in a conversation. Tool calls made
// while producing an assistant message are embedded on the row, never
// stored as separate entities.
type Message struct {
	MessageID      string          `json:"message_id"`
	ConversationID string          `json:"conversation_id"`
	Role           Role            `json:"role"`
	Content        string          `json:"content"`
	ToolCalls      json.RawMessage `json:"tool_calls,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// ToolInvocation is one tool call made during a turn, embedded in the
// assistant message's ToolCalls field.
type ToolInvocation struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// CacheEntry is a tenant-scoped cached answer for an exact normalized
// question. Writes replace the whole row in a single statement.
type CacheEntry struct {
	Key       string    `json:"key"`
	TenantID  string    `json:"tenant_id"`
	Question  string    `json:"question"`
	Response  string    `json:"response"`
	ToolsUsed string    `json:"tools_used,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UsageRecord is the append-only token/cost bookkeeping row. Exactly one
// is written per finalized turn, shortcut paths included.
type UsageRecord struct {
	UsageID      string     `json:"usage_id"`
	MessageID    string     `json:"message_id"`
	TenantID     string     `json:"tenant_id"`
	Source       TurnSource `json:"source"`
	ModelUsed    string     `json:"model_used,omitempty"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	Cached       bool       `json:"cached"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RetrievedChunk is an ephemeral retrieval result injected into the model
// context. Never persisted.
type RetrievedChunk struct {
	Title    string  `json:"title"`
	Category string  `json:"category,omitempty"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// KnowledgeChunk is a persisted corpus row backing retrieval.
type KnowledgeChunk struct {
	ChunkID   string    `json:"chunk_id"`
	TenantID  string    `json:"tenant_id"`
	Title     string    `json:"title"`
	Category  string    `json:"category,omitempty"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
