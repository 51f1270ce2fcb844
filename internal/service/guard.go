package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Verdict is the session guard outcome.
type Verdict struct {
	Allowed bool
	Reason  string
}

// CheckLimits enforces the per-user daily quota, the per-conversation turn
// cap and the cooldown window. The daily counter is incremented
// atomically; the increment stands even when the verdict is a deny.
func (s *Service) CheckLimits(ctx context.Context, userID, conversationID, tenantID string) (*Verdict, error) {
	day := time.Now().UTC().Format("2006-01-02")
	count, err := s.store.IncrementDailyCounter(ctx, tenantID, userID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to increment quota counter: %w", err)
	}
	if count > s.config.DailyMessageQuota {
		return &Verdict{Reason: "daily message quota reached"}, nil
	}

	if conversationID != "" {
		// Two rows per turn (user + assistant).
		messages, err := s.store.CountMessages(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to count messages: %w", err)
		}
		if messages >= s.config.ConversationTurnCap*2 {
			return &Verdict{Reason: "conversation turn cap reached"}, nil
		}
	}

	if !s.limiter(tenantID, userID).Allow() {
		return &Verdict{Reason: "cooldown: too many messages, slow down"}, nil
	}

	return &Verdict{Allowed: true}, nil
}

// limiter returns the per-user cooldown limiter, creating it lazily.
func (s *Service) limiter(tenantID, userID string) *rate.Limiter {
	key := tenantID + "/" + userID

	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	l, ok := s.limiters[key]
	if !ok {
		perMinute := s.config.CooldownPerMinute
		if perMinute <= 0 {
			perMinute = 20
		}
		l = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		s.limiters[key] = l
	}
	return l
}
