package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/alumnia/assistant/config"
	"github.com/alumnia/assistant/internal/tools"
	"github.com/alumnia/assistant/llm"
	"github.com/alumnia/assistant/policy"
	"github.com/alumnia/assistant/store"
	"github.com/alumnia/assistant/tests/helpers"
)

func testConfig() *config.Config {
	return &config.Config{
		MaxOutputTokens:     256,
		MaxToolRounds:       3,
		RecentTurnWindow:    8,
		HistoryTokenBudget:  3000,
		SummaryModel:        "summary-model",
		RetrievalTopK:       4,
		RetrievalMinScore:   0.35,
		CacheTTL:            time.Hour,
		DailyMessageQuota:   100,
		ConversationTurnCap: 100,
		CooldownPerMinute:   600,
	}
}

type testEnv struct {
	svc   *Service
	store *store.SQLiteStore
	cfg   *config.Config
}

// newTestEnv wires a service over an in-memory store, the default policy
// and the given provider chain.
func newTestEnv(t *testing.T, cfg *config.Config, providers ...llm.Provider) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}

	st := helpers.NewTestSQLiteStore(t)
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	gateway := llm.NewGateway(providers, cfg.MaxOutputTokens, cfg.MaxToolRounds, zap.NewNop())
	registry := tools.NewBuiltinRegistry(st)

	svc := New(st, gateway, registry, engine, nil, nil, cfg, zap.NewNop())
	return &testEnv{svc: svc, store: st, cfg: cfg}
}

// scriptStep is one simulated model round.
type scriptStep struct {
	tokens    []string
	toolCalls []llm.ToolCall
	usage     *llm.Usage
	err       error
	errAfter  int
}

type fakeProvider struct {
	name   string
	model  string
	script []scriptStep
	round  int
	calls  int
}

func (f *fakeProvider) Name() string    { return f.name }
func (f *fakeProvider) ModelID() string { return f.model }

func (f *fakeProvider) StreamChat(ctx context.Context, req *llm.ChatCompletionRequest, callback llm.StreamCallback) (*llm.Usage, error) {
	f.calls++
	if f.round >= len(f.script) {
		return nil, fmt.Errorf("no scripted round %d", f.round)
	}
	step := f.script[f.round]
	f.round++

	if step.err != nil && len(step.tokens) == 0 {
		return nil, step.err
	}
	for i, token := range step.tokens {
		if step.err != nil && i == step.errAfter {
			return step.usage, step.err
		}
		chunk := &llm.StreamChunk{Choices: []llm.Choice{{Delta: &llm.ChatMessage{Content: token}}}}
		if err := callback(chunk); err != nil {
			return nil, err
		}
	}
	if step.err != nil {
		return step.usage, step.err
	}
	if len(step.toolCalls) > 0 {
		chunk := &llm.StreamChunk{Choices: []llm.Choice{{Delta: &llm.ChatMessage{ToolCalls: step.toolCalls}}}}
		if err := callback(chunk); err != nil {
			return nil, err
		}
	}
	return step.usage, nil
}

// collectSink records everything the pipeline sends downstream.
type collectSink struct {
	meta    []TurnMeta
	tokens  []string
	text    string
	metaErr error
}

func (c *collectSink) Meta(meta TurnMeta) error {
	c.meta = append(c.meta, meta)
	return c.metaErr
}

func (c *collectSink) WriteToken(text string) error {
	c.tokens = append(c.tokens, text)
	c.text += text
	return nil
}
