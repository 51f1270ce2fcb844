package service

import (
	"context"
	"testing"
	"time"

	"github.com/alumnia/assistant/domain"
)

func TestCheckLimitsAllowsWithinQuota(t *testing.T) {
	env := newTestEnv(t, nil)

	verdict, err := env.svc.CheckLimits(context.Background(), "u1", "", "t1")
	if err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected allow, got %+v", verdict)
	}
}

func TestCheckLimitsDailyQuota(t *testing.T) {
	cfg := testConfig()
	cfg.DailyMessageQuota = 3
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		verdict, err := env.svc.CheckLimits(ctx, "u1", "", "t1")
		if err != nil {
			t.Fatalf("CheckLimits failed: %v", err)
		}
		if !verdict.Allowed {
			t.Fatalf("message %d should be allowed: %+v", i+1, verdict)
		}
	}

	verdict, err := env.svc.CheckLimits(ctx, "u1", "", "t1")
	if err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}
	if verdict.Allowed {
		t.Fatal("expected quota deny")
	}
	if verdict.Reason != "daily message quota reached" {
		t.Fatalf("unexpected reason %q", verdict.Reason)
	}

	// Another user of the same tenant is unaffected.
	other, err := env.svc.CheckLimits(ctx, "u2", "", "t1")
	if err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}
	if !other.Allowed {
		t.Fatalf("quota must be per user: %+v", other)
	}
}

func TestCheckLimitsConversationTurnCap(t *testing.T) {
	cfg := testConfig()
	cfg.ConversationTurnCap = 2
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	conv := &domain.Conversation{ConversationID: "c1", TenantID: "t1", UserID: "u1", Title: "x", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := env.store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		msg := &domain.Message{
			MessageID:      newID("msg"),
			ConversationID: "c1",
			Role:           domain.RoleUser,
			Content:        "x",
			CreatedAt:      time.Now(),
		}
		if err := env.store.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	verdict, err := env.svc.CheckLimits(ctx, "u1", "c1", "t1")
	if err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}
	if verdict.Allowed {
		t.Fatal("expected turn cap deny")
	}
	if verdict.Reason != "conversation turn cap reached" {
		t.Fatalf("unexpected reason %q", verdict.Reason)
	}
}

func TestCheckLimitsCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.CooldownPerMinute = 2
	cfg.DailyMessageQuota = 1000
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	// Burst equals the per-minute allowance; the third immediate message
	// trips the cooldown.
	for i := 0; i < 2; i++ {
		verdict, err := env.svc.CheckLimits(ctx, "u1", "", "t1")
		if err != nil {
			t.Fatalf("CheckLimits failed: %v", err)
		}
		if !verdict.Allowed {
			t.Fatalf("message %d should pass: %+v", i+1, verdict)
		}
	}

	verdict, err := env.svc.CheckLimits(ctx, "u1", "", "t1")
	if err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}
	if verdict.Allowed {
		t.Fatal("expected cooldown deny")
	}
}

func TestCheckLimitsCountsDenials(t *testing.T) {
	cfg := testConfig()
	cfg.DailyMessageQuota = 1
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	if _, err := env.svc.CheckLimits(ctx, "u1", "", "t1"); err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}
	if _, err := env.svc.CheckLimits(ctx, "u1", "", "t1"); err != nil {
		t.Fatalf("CheckLimits failed: %v", err)
	}

	// The denied attempt still incremented the counter.
	day := time.Now().UTC().Format("2006-01-02")
	count, err := env.store.IncrementDailyCounter(ctx, "t1", "u1", day)
	if err != nil {
		t.Fatalf("IncrementDailyCounter failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected counter 3, got %d", count)
	}
}
