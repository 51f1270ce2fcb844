package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alumnia/assistant/domain"
)

// normalizeQuestion folds a message into its cache-lookup form: lowercase,
// surrounding whitespace and question/exclamation punctuation stripped,
// internal whitespace collapsed.
func normalizeQuestion(message string) string {
	s := strings.ToLower(strings.TrimSpace(message))
	s = strings.Trim(s, "¿¡?!.,;: \t\n")
	return strings.Join(strings.Fields(s), " ")
}

// cacheKey builds the tenant-qualified cache key.
func cacheKey(tenantID, message string) string {
	sum := sha256.Sum256([]byte(tenantID + "\n" + normalizeQuestion(message)))
	return hex.EncodeToString(sum[:])
}

// lookupCache returns an unexpired entry for the message, or nil on miss.
func (s *Service) lookupCache(ctx context.Context, tenantID, message string) (*domain.CacheEntry, error) {
	return s.store.GetCacheEntry(ctx, cacheKey(tenantID, message), time.Now())
}

// isCacheable reports whether an answer produced with the given tools may
// be cached. Per-student and time-sensitive tools disqualify; the
// enumeration lives in the rego policy.
func (s *Service) isCacheable(ctx context.Context, tenantID string, toolsUsed []string) bool {
	if len(toolsUsed) == 0 {
		return true
	}
	for _, tool := range toolsUsed {
		decision, err := s.policy.Evaluate(ctx, tool, tenantID)
		if err != nil {
			s.logger.Warn("cacheability policy evaluation failed, not caching",
				zap.String("tool", tool), zap.Error(err))
			return false
		}
		if !decision.Cacheable {
			return false
		}
	}
	return true
}

// storeCache writes the answer for future exact-match hits. Best effort:
// a failed write only loses the cache entry.
func (s *Service) storeCache(ctx context.Context, tenantID, message, response string, toolsUsed []string) {
	now := time.Now()
	entry := &domain.CacheEntry{
		Key:       cacheKey(tenantID, message),
		TenantID:  tenantID,
		Question:  normalizeQuestion(message),
		Response:  response,
		ToolsUsed: strings.Join(toolsUsed, ","),
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.CacheTTL),
	}
	if err := s.store.PutCacheEntry(ctx, entry); err != nil {
		s.logger.Warn("failed to write cache entry", zap.Error(err))
	}
}

// newID builds a prefixed short identifier.
func newID(prefix string) string {
	return prefix + "_" + uuid.New().String()[:8]
}
