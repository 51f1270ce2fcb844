package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/alumnia/assistant/config"
	"github.com/alumnia/assistant/internal/service"
	"github.com/alumnia/assistant/internal/tools"
	"github.com/alumnia/assistant/llm"
	"github.com/alumnia/assistant/policy"
	"github.com/alumnia/assistant/tests/helpers"
)

// fakeProvider streams a fixed token sequence, or fails.
type fakeProvider struct {
	name   string
	model  string
	tokens []string
	err    error
}

func (f *fakeProvider) Name() string    { return f.name }
func (f *fakeProvider) ModelID() string { return f.model }

func (f *fakeProvider) StreamChat(ctx context.Context, req *llm.ChatCompletionRequest, callback llm.StreamCallback) (*llm.Usage, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, token := range f.tokens {
		chunk := &llm.StreamChunk{Choices: []llm.Choice{{Delta: &llm.ChatMessage{Content: token}}}}
		if err := callback(chunk); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		MaxOutputTokens:     256,
		MaxToolRounds:       3,
		RecentTurnWindow:    8,
		HistoryTokenBudget:  3000,
		RetrievalTopK:       4,
		RetrievalMinScore:   0.35,
		CacheTTL:            time.Hour,
		DailyMessageQuota:   100,
		ConversationTurnCap: 100,
		CooldownPerMinute:   600,
	}
}

func newTestServer(t *testing.T, cfg *config.Config, providers ...llm.Provider) *echo.Echo {
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
	svc := service.New(st, gateway, registry, engine, nil, nil, cfg, zap.NewNop())

	e := echo.New()
	NewHandler(svc, zap.NewNop()).RegisterRoutes(e)
	return e
}

func doChat(e *echo.Echo, tenantID, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tenantID != "" {
		req.Header.Set("X-Tenant-Id", tenantID)
	}
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestChatRequiresIdentity(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doChat(e, "", "u1", `{"message":"hola"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doChat(e, "t1", "", `{"message":"hola"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatEmptyMessage(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doChat(e, "t1", "u1", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatQuotaExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.DailyMessageQuota = 0
	e := newTestServer(t, cfg)

	rec := doChat(e, "t1", "u1", `{"message":"¿qué programas tienen?"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestChatStreamsModelAnswer(t *testing.T) {
	provider := &fakeProvider{name: "primary", model: "m1", tokens: []string{"Tenemos ", "dos programas."}}
	e := newTestServer(t, nil, provider)

	rec := doChat(e, "t1", "u1", `{"message":"¿qué programas tienen?"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Tenemos dos programas.", rec.Body.String())
	assert.Equal(t, "model", rec.Header().Get("X-Turn-Source"))
	assert.Equal(t, "primary", rec.Header().Get("X-Provider-Used"))
	assert.Equal(t, "m1", rec.Header().Get("X-Model-Used"))
	assert.Equal(t, "false", rec.Header().Get("X-Cache-Hit"))
	assert.NotEmpty(t, rec.Header().Get("X-Conversation-Id"))
}

func TestChatGreetingServedLocally(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doChat(e, "t1", "u1", `{"message":"hola"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "local", rec.Header().Get("X-Turn-Source"))
	assert.Contains(t, rec.Body.String(), "asistente virtual")
}

func TestChatCacheHitHeaders(t *testing.T) {
	provider := &fakeProvider{name: "primary", model: "m1", tokens: []string{"Dos programas."}}
	e := newTestServer(t, nil, provider)

	first := doChat(e, "t1", "u1", `{"message":"¿qué programas tienen?"}`)
	assert.Equal(t, http.StatusOK, first.Code)

	// Same question, different surface form, different user.
	second := doChat(e, "t1", "u2", `{"message":"qué programas tienen"}`)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "cache", second.Header().Get("X-Turn-Source"))
	assert.Equal(t, "true", second.Header().Get("X-Cache-Hit"))
	assert.Equal(t, "Dos programas.", second.Body.String())
}

func TestChatProvidersExhausted(t *testing.T) {
	provider := &fakeProvider{name: "primary", model: "m1", err: errors.New("timeout")}
	e := newTestServer(t, nil, provider)

	rec := doChat(e, "t1", "u1", `{"message":"¿qué programas tienen?"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestChatUnknownConversation(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doChat(e, "t1", "u1", `{"conversation_id":"conv_nope","message":"¿qué programas tienen?"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetConversationMessagesAndUsage(t *testing.T) {
	provider := &fakeProvider{name: "primary", model: "m1", tokens: []string{"Dos programas."}}
	e := newTestServer(t, nil, provider)

	chat := doChat(e, "t1", "u1", `{"message":"¿qué programas tienen?"}`)
	assert.Equal(t, http.StatusOK, chat.Code)
	convID := chat.Header().Get("X-Conversation-Id")

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/conversations/%s/messages", convID), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var msgBody struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgBody))
	assert.Len(t, msgBody.Messages, 2)
	assert.Equal(t, "user", msgBody.Messages[0].Role)
	assert.Equal(t, "Dos programas.", msgBody.Messages[1].Content)

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/conversations/%s/usage", convID), nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var usageBody struct {
		Usage []struct {
			Source string `json:"source"`
		} `json:"usage"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usageBody))
	assert.Len(t, usageBody.Usage, 1)
	assert.Equal(t, "model", usageBody.Usage[0].Source)
}

func TestIntQueryParam(t *testing.T) {
	e := echo.New()
	cases := map[string]int{"": 50, "10": 10, "abc": 50, "0": 50, "-5": 50}
	for raw, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/?limit="+raw, nil)
		c := e.NewContext(req, httptest.NewRecorder())
		assert.Equal(t, want, intQueryParam(c, "limit", 50), "limit=%q", raw)
	}
}
