// Package store defines the storage interface and implementations.
package store

import (
	"context"
	"time"

	"github.com/alumnia/assistant/domain"
)

// Store defines the interface for data persistence. All operations are
// tenant-qualified where tenant data is involved.
type Store interface {
	// Conversation operations
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
	UpdateConversationSummary(ctx context.Context, conversationID, summary string) error

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)

	// Response cache operations. PutCacheEntry is atomic: a concurrent
	// reader sees either the old row or the new one, never a mix.
	GetCacheEntry(ctx context.Context, key string, now time.Time) (*domain.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry *domain.CacheEntry) error

	// Usage ledger (append-only)
	CreateUsageRecord(ctx context.Context, record *domain.UsageRecord) error
	ListUsageByConversation(ctx context.Context, conversationID string) ([]domain.UsageRecord, error)

	// Quota counters. IncrementDailyCounter atomically increments and
	// returns the new value for (tenant, user, day).
	IncrementDailyCounter(ctx context.Context, tenantID, userID, day string) (int, error)

	// Knowledge corpus
	CreateKnowledgeChunk(ctx context.Context, chunk *domain.KnowledgeChunk) error
	ListKnowledgeChunks(ctx context.Context, tenantID string) ([]domain.KnowledgeChunk, error)

	// CRM read queries backing the registered tools
	RevenueStats(ctx context.Context, tenantID string, since time.Time) (*domain.RevenueStats, error)
	ListPrograms(ctx context.Context, tenantID string, activeOnly bool) ([]domain.Program, error)
	AgingReport(ctx context.Context, tenantID string) ([]domain.AgingBucket, error)
	SearchStudents(ctx context.Context, tenantID, query string, limit int) ([]domain.Student, error)
	AdvisorPerformance(ctx context.Context, tenantID string) ([]domain.AdvisorStats, error)

	// Lifecycle
	Close() error
}
