package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alumnia/assistant/domain"
	"github.com/alumnia/assistant/llm"
)

// ChatRequest is one inbound user message.
type ChatRequest struct {
	ConversationID string
	Message        string
	TenantID       string
	UserID         string
}

// TurnMeta is the out-of-band response metadata, delivered before the
// first body byte.
type TurnMeta struct {
	ConversationID string
	Source         domain.TurnSource
	Provider       string
	ModelID        string
	CacheHit       bool
}

// StreamSink receives the outbound response. Meta fires exactly once,
// before any token.
type StreamSink interface {
	Meta(meta TurnMeta) error
	WriteToken(text string) error
}

// ChatResult summarizes a finalized turn.
type ChatResult struct {
	ConversationID string
	MessageID      string
	Source         domain.TurnSource
	Provider       string
	ModelID        string
	CacheHit       bool
	Text           string
	Truncated      bool
}

const systemPrompt = `Eres el asistente virtual de una institución educativa. Respondes preguntas sobre programas académicos, estudiantes, pagos y asesores.
Usa únicamente la información de las herramientas disponibles y del contexto proporcionado. Si una herramienta falla o los datos no existen, di honestamente que la información no está disponible. Nunca inventes cifras, nombres ni datos.
Responde en el idioma del usuario, de forma breve y concreta.`

// turn carries per-request finalization state. FINALIZED is reachable from
// the router, cache and model paths; the once guarantees a single
// assistant message and a single usage record whichever path wins.
type turn struct {
	conv     *domain.Conversation
	tenantID string
	once     sync.Once
	result   *ChatResult
}

// ChatTurn orchestrates one request/response cycle: guard, route, cache,
// prune, retrieve, model stream with tool loop, finalize.
func (s *Service) ChatTurn(ctx context.Context, req ChatRequest, sink StreamSink) (*ChatResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, domain.ErrEmptyMessage
	}

	conv, err := s.resolveConversation(ctx, &req)
	if err != nil {
		return nil, err
	}

	verdict, err := s.CheckLimits(ctx, req.UserID, req.ConversationID, req.TenantID)
	if err != nil {
		return nil, err
	}
	if !verdict.Allowed {
		return nil, &domain.QuotaError{Reason: verdict.Reason}
	}

	// User message goes down before any model work.
	userMsg := &domain.Message{
		MessageID:      newID("msg"),
		ConversationID: conv.ConversationID,
		Role:           domain.RoleUser,
		Content:        req.Message,
		CreatedAt:      time.Now(),
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	t := &turn{conv: conv, tenantID: req.TenantID}

	// Router short-circuit
	route := s.Classify(req.Message, req.TenantID)
	if !route.Proceed {
		s.logger.Info("router short-circuit",
			zap.String("conversation_id", conv.ConversationID),
			zap.String("intent", string(route.Intent)))
		return s.finalizeShortcut(ctx, t, sink, route.LocalResponse, domain.TurnSourceLocal, false)
	}

	// Cache short-circuit
	entry, err := s.lookupCache(ctx, req.TenantID, req.Message)
	if err != nil {
		s.logger.Warn("cache lookup failed", zap.Error(err))
	}
	if entry != nil {
		return s.finalizeShortcut(ctx, t, sink, entry.Response, domain.TurnSourceCache, true)
	}

	// Context assembly
	history, err := s.store.GetMessages(ctx, conv.ConversationID, 200)
	if err != nil {
		s.logger.Warn("failed to load history, using current message only", zap.Error(err))
		history = []domain.Message{*userMsg}
	}
	pruned := s.Prune(ctx, conv, history)
	chunks := s.SearchKnowledge(ctx, req.Message, req.TenantID)

	messages := buildPrompt(pruned, chunks)

	exec := func(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
		decision, err := s.policy.Evaluate(ctx, name, req.TenantID)
		if err != nil {
			return nil, fmt.Errorf("policy evaluation failed: %w", err)
		}
		if !decision.Allow {
			return nil, fmt.Errorf("tool %s not allowed: %s", name, decision.Reason)
		}
		return s.registry.Execute(ctx, req.TenantID, name, args)
	}

	hooks := llm.TurnHooks{
		OnCommit: func(provider, modelID string) error {
			return sink.Meta(TurnMeta{
				ConversationID: conv.ConversationID,
				Source:         domain.TurnSourceModel,
				Provider:       provider,
				ModelID:        modelID,
			})
		},
		OnToken: sink.WriteToken,
	}

	res, gwErr := s.gateway.StreamTurn(ctx, messages, s.registry.Definitions(), exec, hooks)
	if gwErr != nil {
		if res == nil || res.Text == "" {
			// Nothing reached the client; the turn fails without an
			// assistant message.
			return nil, gwErr
		}
		// The stream terminated after output was emitted (provider died
		// mid-stream or the client disconnected). Keep the partial text as
		// a truncated assistant message so emitted tokens stay accounted.
		// The request context may already be canceled here, so the
		// bookkeeping writes run detached from it.
		s.logger.Warn("stream terminated mid-turn, persisting partial text",
			zap.String("conversation_id", conv.ConversationID), zap.Error(gwErr))
		result := s.finalizeModel(context.WithoutCancel(ctx), t, req.Message, messages, res, true)
		return result, gwErr
	}

	return s.finalizeModel(ctx, t, req.Message, messages, res, false), nil
}

// resolveConversation loads the conversation or creates one on first
// message. A supplied ID must exist and belong to the caller's tenant.
func (s *Service) resolveConversation(ctx context.Context, req *ChatRequest) (*domain.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := s.store.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
		if conv == nil || conv.TenantID != req.TenantID {
			return nil, domain.ErrConversationNotFound
		}
		return conv, nil
	}

	now := time.Now()
	conv := &domain.Conversation{
		ConversationID: newID("conv"),
		TenantID:       req.TenantID,
		UserID:         req.UserID,
		Title:          conversationTitle(req.Message),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	req.ConversationID = conv.ConversationID
	return conv, nil
}

// finalizeShortcut serves a router or cache answer: the full text goes out
// at once, then the turn is finalized with a zero-token usage record.
func (s *Service) finalizeShortcut(ctx context.Context, t *turn, sink StreamSink, text string, source domain.TurnSource, cached bool) (*ChatResult, error) {
	meta := TurnMeta{
		ConversationID: t.conv.ConversationID,
		Source:         source,
		CacheHit:       cached,
	}
	if err := sink.Meta(meta); err != nil {
		s.logger.Warn("failed to open response stream", zap.Error(err))
	} else if err := sink.WriteToken(text); err != nil {
		s.logger.Warn("failed to write shortcut response", zap.Error(err))
	}

	s.finalize(ctx, t, finalizeInput{
		text:   text,
		source: source,
		cached: cached,
	})
	return t.result, nil
}

// finalizeModel persists the model-produced answer and populates the cache
// when the tool signature allows it.
func (s *Service) finalizeModel(ctx context.Context, t *turn, question string, prompt []llm.ChatMessage, res *llm.TurnResult, truncated bool) *ChatResult {
	usage := res.Usage
	if usage.PromptTokens == 0 {
		for _, m := range prompt {
			usage.PromptTokens += s.estimateTokens(m.Content)
		}
	}
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = s.estimateTokens(res.Text)
	}

	s.finalize(ctx, t, finalizeInput{
		text:         res.Text,
		source:       domain.TurnSourceModel,
		provider:     res.Provider,
		modelID:      res.ModelID,
		inputTokens:  usage.PromptTokens,
		outputTokens: usage.CompletionTokens,
		toolTrace:    res.ToolTrace,
		truncated:    truncated,
	})

	if !truncated && s.isCacheable(ctx, t.tenantID, res.ToolsUsed) {
		s.storeCache(ctx, t.tenantID, question, res.Text, res.ToolsUsed)
	}
	return t.result
}

type finalizeInput struct {
	text         string
	source       domain.TurnSource
	provider     string
	modelID      string
	inputTokens  int
	outputTokens int
	cached       bool
	truncated    bool
	toolTrace    []domain.ToolInvocation
}

// finalize persists the assistant message and the usage record. Runs at
// most once per turn; bookkeeping failures are logged because the stream
// may already be flushed to the client.
func (s *Service) finalize(ctx context.Context, t *turn, in finalizeInput) {
	t.once.Do(func() {
		msg := &domain.Message{
			MessageID:      newID("msg"),
			ConversationID: t.conv.ConversationID,
			Role:           domain.RoleAssistant,
			Content:        in.text,
			CreatedAt:      time.Now(),
		}
		if len(in.toolTrace) > 0 {
			if data, err := json.Marshal(in.toolTrace); err == nil {
				msg.ToolCalls = data
			}
		}
		if in.truncated {
			msg.Metadata = json.RawMessage(`{"truncated":true}`)
		}

		if err := s.store.CreateMessage(ctx, msg); err != nil {
			s.logger.Error("failed to persist assistant message",
				zap.String("conversation_id", t.conv.ConversationID), zap.Error(err))
		}

		s.recordUsage(ctx, &domain.UsageRecord{
			MessageID:    msg.MessageID,
			TenantID:     t.tenantID,
			Source:       in.source,
			ModelUsed:    in.modelID,
			InputTokens:  in.inputTokens,
			OutputTokens: in.outputTokens,
			Cached:       in.cached,
		})

		t.result = &ChatResult{
			ConversationID: t.conv.ConversationID,
			MessageID:      msg.MessageID,
			Source:         in.source,
			Provider:       in.provider,
			ModelID:        in.modelID,
			CacheHit:       in.cached,
			Text:           in.text,
			Truncated:      in.truncated,
		}
	})
}

// buildPrompt assembles the model context: grounding system prompt,
// rolling summary, retrieved chunks, then the recent turns verbatim.
func buildPrompt(pruned *PrunedContext, chunks []domain.RetrievedChunk) []llm.ChatMessage {
	var sys strings.Builder
	sys.WriteString(systemPrompt)

	if pruned.Summary != "" {
		sys.WriteString("\n\nResumen de la conversación previa:\n")
		sys.WriteString(pruned.Summary)
	}
	if len(chunks) > 0 {
		sys.WriteString("\n\nContexto institucional relevante:\n")
		for _, c := range chunks {
			sys.WriteString("- [")
			sys.WriteString(c.Title)
			sys.WriteString("] ")
			sys.WriteString(c.Content)
			sys.WriteString("\n")
		}
	}

	messages := []llm.ChatMessage{{Role: "system", Content: sys.String()}}
	for _, m := range pruned.Recent {
		messages = append(messages, llm.ChatMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return messages
}

func conversationTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if runes := []rune(title); len(runes) > 48 {
		title = string(runes[:48])
	}
	return title
}
