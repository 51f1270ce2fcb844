package service

import (
	"context"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/alumnia/assistant/domain"
)

// recordUsage appends the turn's usage row. Called exactly once per
// finalized turn, after the stream has been flushed. A failure here is
// logged, never surfaced to an already-served client.
func (s *Service) recordUsage(ctx context.Context, record *domain.UsageRecord) {
	record.UsageID = newID("usg")
	record.CreatedAt = time.Now()
	if err := s.store.CreateUsageRecord(ctx, record); err != nil {
		s.logger.Error("failed to record usage",
			zap.String("message_id", record.MessageID), zap.Error(err))
	}
}

// estimateTokens approximates the token count of a text. Used for the
// pruning threshold and as a fallback when a provider reports no usage.
func (s *Service) estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	s.tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			s.logger.Warn("tiktoken unavailable, using character heuristic", zap.Error(err))
			return
		}
		s.tokenizer = enc
	})
	if s.tokenizer != nil {
		return len(s.tokenizer.Encode(text, nil, nil))
	}
	// Rough heuristic: one token per four characters.
	return (len(text) + 3) / 4
}
