package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alumnia/assistant/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite handles one writer at a time; a single pooled connection
	// avoids lock contention and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_tenant ON conversations(tenant_id, user_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			metadata TEXT,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			question TEXT NOT NULL,
			response TEXT NOT NULL,
			tools_used TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage_records (
			usage_id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			source TEXT NOT NULL,
			model_used TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cached INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_message ON usage_records(message_id)`,
		`CREATE TABLE IF NOT EXISTS quota_counters (
			tenant_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			day TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, user_id, day)
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_chunks (
			chunk_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			title TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_tenant ON knowledge_chunks(tenant_id)`,
		`CREATE TABLE IF NOT EXISTS students (
			student_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			full_name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			program_id TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			balance_cents INTEGER NOT NULL DEFAULT 0,
			enrolled_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_students_tenant ON students(tenant_id)`,
		`CREATE TABLE IF NOT EXISTS programs (
			program_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			modality TEXT NOT NULL DEFAULT '',
			price_cents INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS advisors (
			advisor_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			full_name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			payment_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			student_id TEXT NOT NULL,
			advisor_id TEXT,
			amount_cents INTEGER NOT NULL,
			due_at DATETIME NOT NULL,
			paid_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_tenant ON payments(tenant_id, paid_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// DB exposes the underlying handle for seeding and migrations.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation creates a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, tenant_id, user_id, title, summary, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ConversationID, conv.TenantID, conv.UserID, conv.Title, conv.Summary, conv.CreatedAt, conv.UpdatedAt)
	return err
}

// GetConversation retrieves a conversation by ID. Returns (nil, nil) when
// no row exists.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, tenant_id, user_id, title, summary, created_at, updated_at
		 FROM conversations WHERE conversation_id = ?`, conversationID).
		Scan(&conv.ConversationID, &conv.TenantID, &conv.UserID, &conv.Title, &conv.Summary, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// UpdateConversationSummary replaces the rolling summary.
func (s *SQLiteStore) UpdateConversationSummary(ctx context.Context, conversationID, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET summary = ?, updated_at = CURRENT_TIMESTAMP WHERE conversation_id = ?`,
		summary, conversationID)
	return err
}

// CreateMessage appends a message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	var toolCalls, metadata interface{}
	if len(message.ToolCalls) > 0 {
		toolCalls = string(message.ToolCalls)
	}
	if len(message.Metadata) > 0 {
		metadata = string(message.Metadata)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, role, content, tool_calls, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID, message.ConversationID, message.Role, message.Content, toolCalls, message.CreatedAt, metadata)
	return err
}

// GetMessages retrieves the most recent messages in chronological order.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, conversation_id, role, content, tool_calls, created_at, metadata
		 FROM (
			SELECT * FROM messages WHERE conversation_id = ? ORDER BY created_at DESC, message_id DESC LIMIT ?
		 ) ORDER BY created_at ASC, message_id ASC`,
		conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var toolCalls, metadata sql.NullString
		if err := rows.Scan(&msg.MessageID, &msg.ConversationID, &msg.Role, &msg.Content, &toolCalls, &msg.CreatedAt, &metadata); err != nil {
			return nil, err
		}
		if toolCalls.Valid {
			msg.ToolCalls = json.RawMessage(toolCalls.String)
		}
		if metadata.Valid {
			msg.Metadata = json.RawMessage(metadata.String)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CountMessages returns the number of messages in a conversation.
func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&count)
	return count, err
}

// GetCacheEntry retrieves an unexpired cache entry. Returns (nil, nil) on
// miss or expiry.
func (s *SQLiteStore) GetCacheEntry(ctx context.Context, key string, now time.Time) (*domain.CacheEntry, error) {
	var entry domain.CacheEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT key, tenant_id, question, response, tools_used, created_at, expires_at
		 FROM cache_entries WHERE key = ? AND expires_at > ?`, key, now).
		Scan(&entry.Key, &entry.TenantID, &entry.Question, &entry.Response, &entry.ToolsUsed, &entry.CreatedAt, &entry.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// PutCacheEntry writes a cache entry. Single-statement replace, so a
// concurrent read never observes a half-written row. Last write wins.
func (s *SQLiteStore) PutCacheEntry(ctx context.Context, entry *domain.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, tenant_id, question, response, tools_used, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Key, entry.TenantID, entry.Question, entry.Response, entry.ToolsUsed, entry.CreatedAt, entry.ExpiresAt)
	return err
}

// CreateUsageRecord appends a usage record.
func (s *SQLiteStore) CreateUsageRecord(ctx context.Context, record *domain.UsageRecord) error {
	cached := 0
	if record.Cached {
		cached = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (usage_id, message_id, tenant_id, source, model_used, input_tokens, output_tokens, cached, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.UsageID, record.MessageID, record.TenantID, record.Source, record.ModelUsed,
		record.InputTokens, record.OutputTokens, cached, record.CreatedAt)
	return err
}

// ListUsageByConversation returns usage rows for a conversation's messages.
func (s *SQLiteStore) ListUsageByConversation(ctx context.Context, conversationID string) ([]domain.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.usage_id, u.message_id, u.tenant_id, u.source, u.model_used, u.input_tokens, u.output_tokens, u.cached, u.created_at
		 FROM usage_records u
		 JOIN messages m ON m.message_id = u.message_id
		 WHERE m.conversation_id = ?
		 ORDER BY u.created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.UsageRecord
	for rows.Next() {
		var rec domain.UsageRecord
		var cached int
		if err := rows.Scan(&rec.UsageID, &rec.MessageID, &rec.TenantID, &rec.Source, &rec.ModelUsed,
			&rec.InputTokens, &rec.OutputTokens, &cached, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Cached = cached != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// IncrementDailyCounter atomically increments the per-user daily counter
// and returns the new value. A single upsert keeps this correct under
// concurrent requests from the same user.
func (s *SQLiteStore) IncrementDailyCounter(ctx context.Context, tenantID, userID, day string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO quota_counters (tenant_id, user_id, day, count) VALUES (?, ?, ?, 1)
		 ON CONFLICT(tenant_id, user_id, day) DO UPDATE SET count = count + 1
		 RETURNING count`,
		tenantID, userID, day).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return count, nil
}

// CreateKnowledgeChunk inserts a corpus chunk.
func (s *SQLiteStore) CreateKnowledgeChunk(ctx context.Context, chunk *domain.KnowledgeChunk) error {
	var embedding interface{}
	if len(chunk.Embedding) > 0 {
		data, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		embedding = string(data)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_chunks (chunk_id, tenant_id, title, category, content, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chunk.ChunkID, chunk.TenantID, chunk.Title, chunk.Category, chunk.Content, embedding, chunk.CreatedAt)
	return err
}

// ListKnowledgeChunks returns all corpus chunks for a tenant.
func (s *SQLiteStore) ListKnowledgeChunks(ctx context.Context, tenantID string) ([]domain.KnowledgeChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, tenant_id, title, category, content, embedding, created_at
		 FROM knowledge_chunks WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.KnowledgeChunk
	for rows.Next() {
		var chunk domain.KnowledgeChunk
		var embedding sql.NullString
		if err := rows.Scan(&chunk.ChunkID, &chunk.TenantID, &chunk.Title, &chunk.Category, &chunk.Content, &embedding, &chunk.CreatedAt); err != nil {
			return nil, err
		}
		if embedding.Valid {
			if err := json.Unmarshal([]byte(embedding.String), &chunk.Embedding); err != nil {
				return nil, fmt.Errorf("failed to unmarshal embedding for %s: %w", chunk.ChunkID, err)
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// RevenueStats aggregates payments for a tenant since the given time.
func (s *SQLiteStore) RevenueStats(ctx context.Context, tenantID string, since time.Time) (*domain.RevenueStats, error) {
	stats := &domain.RevenueStats{PeriodStart: since}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount_cents), 0)
		 FROM payments WHERE tenant_id = ? AND paid_at IS NOT NULL AND paid_at >= ?`,
		tenantID, since).Scan(&stats.PaymentCount, &stats.CollectedCents)
	if err != nil {
		return nil, err
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0)
		 FROM payments WHERE tenant_id = ? AND paid_at IS NULL`,
		tenantID).Scan(&stats.OutstandingCents)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ListPrograms returns the program catalog for a tenant.
func (s *SQLiteStore) ListPrograms(ctx context.Context, tenantID string, activeOnly bool) ([]domain.Program, error) {
	query := `SELECT program_id, tenant_id, name, modality, price_cents, active FROM programs WHERE tenant_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var programs []domain.Program
	for rows.Next() {
		var p domain.Program
		var active int
		if err := rows.Scan(&p.ProgramID, &p.TenantID, &p.Name, &p.Modality, &p.PriceCents, &active); err != nil {
			return nil, err
		}
		p.Active = active != 0
		programs = append(programs, p)
	}
	return programs, rows.Err()
}

// AgingReport buckets unpaid payments by days overdue.
func (s *SQLiteStore) AgingReport(ctx context.Context, tenantID string) ([]domain.AgingBucket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT
			CASE
				WHEN julianday('now') - julianday(due_at) <= 30 THEN '0-30'
				WHEN julianday('now') - julianday(due_at) <= 60 THEN '31-60'
				WHEN julianday('now') - julianday(due_at) <= 90 THEN '61-90'
				ELSE '90+'
			END AS bucket,
			COUNT(*), COALESCE(SUM(amount_cents), 0)
		 FROM payments
		 WHERE tenant_id = ? AND paid_at IS NULL AND due_at < CURRENT_TIMESTAMP
		 GROUP BY bucket ORDER BY bucket`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []domain.AgingBucket
	for rows.Next() {
		var b domain.AgingBucket
		if err := rows.Scan(&b.Bucket, &b.Count, &b.TotalCents); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// SearchStudents performs a fuzzy name/email search within a tenant.
func (s *SQLiteStore) SearchStudents(ctx context.Context, tenantID, query string, limit int) ([]domain.Student, error) {
	if limit <= 0 || limit > 20 {
		limit = 10
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id, tenant_id, full_name, email, COALESCE(program_id, ''), status, balance_cents, enrolled_at
		 FROM students
		 WHERE tenant_id = ? AND (full_name LIKE ? COLLATE NOCASE OR email LIKE ? COLLATE NOCASE)
		 ORDER BY full_name LIMIT ?`,
		tenantID, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []domain.Student
	for rows.Next() {
		var st domain.Student
		if err := rows.Scan(&st.StudentID, &st.TenantID, &st.FullName, &st.Email, &st.ProgramID, &st.Status, &st.BalanceCents, &st.EnrolledAt); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// AdvisorPerformance rolls up collected payments per advisor.
func (s *SQLiteStore) AdvisorPerformance(ctx context.Context, tenantID string) ([]domain.AdvisorStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.advisor_id, a.full_name,
			COUNT(DISTINCT p.student_id),
			COALESCE(SUM(CASE WHEN p.paid_at IS NOT NULL THEN p.amount_cents ELSE 0 END), 0)
		 FROM advisors a
		 LEFT JOIN payments p ON p.advisor_id = a.advisor_id AND p.tenant_id = a.tenant_id
		 WHERE a.tenant_id = ?
		 GROUP BY a.advisor_id, a.full_name
		 ORDER BY a.full_name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.AdvisorStats
	for rows.Next() {
		var st domain.AdvisorStats
		if err := rows.Scan(&st.AdvisorID, &st.FullName, &st.EnrolledCount, &st.CollectedCents); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
