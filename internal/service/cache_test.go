package service

import (
	"context"
	"testing"
)

func TestNormalizeQuestion(t *testing.T) {
	cases := map[string]string{
		"¿Cuánto hemos recaudado este mes?":      "cuánto hemos recaudado este mes",
		"  CUÁNTO   hemos recaudado este mes  ":  "cuánto hemos recaudado este mes",
		"¡¿cuánto hemos recaudado este mes?!":    "cuánto hemos recaudado este mes",
		"cuánto hemos recaudado\neste\tmes":      "cuánto hemos recaudado este mes",
		"Qué programas hay...":                   "qué programas hay",
	}
	for in, want := range cases {
		if got := normalizeQuestion(in); got != want {
			t.Fatalf("normalizeQuestion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCacheKeyTenantScoped(t *testing.T) {
	q := "¿qué programas tienen?"
	if cacheKey("t1", q) == cacheKey("t2", q) {
		t.Fatal("cache keys must differ across tenants")
	}
	if cacheKey("t1", q) != cacheKey("t1", "QUÉ programas tienen") {
		t.Fatal("equivalent questions must share a key")
	}
	if cacheKey("t1", "qué programas tienen") == cacheKey("t1", "cuánto cuestan") {
		t.Fatal("distinct questions must not collide")
	}
}

func TestLookupCacheRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.svc.storeCache(ctx, "t1", "¿Qué programas tienen?", "Tenemos dos programas activos.", nil)

	entry, err := env.svc.lookupCache(ctx, "t1", "qué programas tienen")
	if err != nil {
		t.Fatalf("lookupCache failed: %v", err)
	}
	if entry == nil || entry.Response != "Tenemos dos programas activos." {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	miss, err := env.svc.lookupCache(ctx, "t2", "qué programas tienen")
	if err != nil {
		t.Fatalf("lookupCache failed: %v", err)
	}
	if miss != nil {
		t.Fatalf("cache must not leak across tenants: %+v", miss)
	}
}

func TestIsCacheable(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if !env.svc.isCacheable(ctx, "t1", nil) {
		t.Fatal("tool-free answers are cacheable")
	}
	if !env.svc.isCacheable(ctx, "t1", []string{"revenue_stats", "program_catalog"}) {
		t.Fatal("tenant-wide tools are cacheable")
	}
	if env.svc.isCacheable(ctx, "t1", []string{"student_search"}) {
		t.Fatal("per-student answers must not be cached")
	}
	if env.svc.isCacheable(ctx, "t1", []string{"program_catalog", "aging_report"}) {
		t.Fatal("one volatile tool disqualifies the whole answer")
	}
}
