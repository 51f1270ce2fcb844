package service

import (
	"context"
	"fmt"

	"github.com/alumnia/assistant/domain"
)

func (s *Service) GetMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	messages, err := s.store.GetMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

func (s *Service) GetUsage(ctx context.Context, conversationID string) ([]domain.UsageRecord, error) {
	records, err := s.store.ListUsageByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage records: %w", err)
	}
	return records, nil
}
