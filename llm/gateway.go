package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/alumnia/assistant/domain"
)

// Provider is one streaming backend in the fallback chain.
type Provider interface {
	Name() string
	ModelID() string
	StreamChat(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error)
}

// ToolExecutor runs a named tool with raw JSON arguments. Errors are fed
// back to the model as structured payloads, never raised to the caller.
type ToolExecutor func(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)

// TurnHooks connects the gateway to the outbound stream. OnCommit fires
// once, before the first content token is forwarded; at that point the
// provider is locked in and no further fallback happens.
type TurnHooks struct {
	OnCommit func(provider, modelID string) error
	OnToken  func(text string) error
}

// TurnResult is the outcome of one model turn, tool rounds included.
type TurnResult struct {
	Provider  string
	ModelID   string
	Text      string
	Usage     Usage
	ToolsUsed []string
	ToolTrace []domain.ToolInvocation
}

// Gateway invokes an ordered list of providers with pre-first-token
// fallback, a per-turn output token budget and a bounded tool loop.
type Gateway struct {
	providers       []Provider
	maxOutputTokens int
	maxToolRounds   int
	logger          *zap.Logger
}

// NewGateway creates a gateway over the ordered provider list.
func NewGateway(providers []Provider, maxOutputTokens, maxToolRounds int, logger *zap.Logger) *Gateway {
	if maxToolRounds <= 0 {
		maxToolRounds = 5
	}
	return &Gateway{
		providers:       providers,
		maxOutputTokens: maxOutputTokens,
		maxToolRounds:   maxToolRounds,
		logger:          logger,
	}
}

// StreamTurn runs one model turn. Providers are tried in order; a failure
// before any content token advances to the next provider, a failure after
// terminates the stream without restarting it. The partial result is
// returned alongside the error so the caller can account for emitted
// tokens.
func (g *Gateway) StreamTurn(ctx context.Context, messages []ChatMessage, tools []Tool, exec ToolExecutor, hooks TurnHooks) (*TurnResult, error) {
	if len(g.providers) == 0 {
		return nil, domain.ErrProvidersExhausted
	}

	var lastErr error
	for _, p := range g.providers {
		res, emitted, err := g.runProvider(ctx, p, messages, tools, exec, hooks)
		if err == nil {
			return res, nil
		}
		if emitted {
			return res, err
		}
		lastErr = err
		g.logger.Warn("provider failed before first token, falling back",
			zap.String("provider", p.Name()),
			zap.Error(err))
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrProvidersExhausted, lastErr)
}

// runProvider drives the bounded tool loop against a single provider.
// The bool result reports whether any content token was emitted.
func (g *Gateway) runProvider(ctx context.Context, p Provider, base []ChatMessage, tools []Tool, exec ToolExecutor, hooks TurnHooks) (*TurnResult, bool, error) {
	messages := make([]ChatMessage, len(base))
	copy(messages, base)

	res := &TurnResult{Provider: p.Name(), ModelID: p.ModelID()}
	emitted := false
	var text strings.Builder

	for round := 0; ; round++ {
		maxTokens := g.maxOutputTokens
		req := &ChatCompletionRequest{
			Messages:  messages,
			MaxTokens: &maxTokens,
		}
		if round < g.maxToolRounds {
			req.Tools = tools
		} else {
			// Tool budget spent: force a best-effort final answer.
			req.ToolChoice = "none"
		}

		var calls []ToolCall
		usage, err := p.StreamChat(ctx, req, func(chunk *StreamChunk) error {
			if len(chunk.Choices) == 0 {
				return nil
			}
			delta := chunk.Choices[0].Delta
			if delta == nil {
				return nil
			}
			for _, tc := range delta.ToolCalls {
				for len(calls) <= tc.Index {
					calls = append(calls, ToolCall{Index: len(calls), Type: "function"})
				}
				cur := &calls[tc.Index]
				if tc.ID != "" {
					cur.ID = tc.ID
				}
				if tc.Function.Name != "" {
					cur.Function.Name = tc.Function.Name
				}
				cur.Function.Arguments += tc.Function.Arguments
			}
			if delta.Content != "" {
				if !emitted {
					emitted = true
					if hooks.OnCommit != nil {
						if err := hooks.OnCommit(p.Name(), p.ModelID()); err != nil {
							return err
						}
					}
				}
				text.WriteString(delta.Content)
				if hooks.OnToken != nil {
					return hooks.OnToken(delta.Content)
				}
			}
			return nil
		})

		if usage != nil {
			res.Usage.PromptTokens += usage.PromptTokens
			res.Usage.CompletionTokens += usage.CompletionTokens
			res.Usage.TotalTokens += usage.TotalTokens
		}
		res.Text = text.String()

		if err != nil {
			return res, emitted, err
		}

		if len(calls) == 0 || round >= g.maxToolRounds {
			return res, emitted, nil
		}

		// Model requested tools: execute sequentially, feed results back
		// as context for the next round.
		messages = append(messages, ChatMessage{Role: "assistant", ToolCalls: calls})
		for i := range calls {
			call := calls[i]
			args := json.RawMessage(call.Function.Arguments)
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}

			result, execErr := exec(ctx, call.Function.Name, args)
			inv := domain.ToolInvocation{Tool: call.Function.Name, Arguments: args}

			var content string
			if execErr != nil {
				inv.Error = execErr.Error()
				payload, _ := json.Marshal(map[string]string{"error": execErr.Error()})
				content = string(payload)
				g.logger.Warn("tool execution failed",
					zap.String("tool", call.Function.Name),
					zap.Error(execErr))
			} else {
				inv.Result = result
				content = string(result)
			}

			res.ToolTrace = append(res.ToolTrace, inv)
			res.ToolsUsed = appendUnique(res.ToolsUsed, call.Function.Name)
			messages = append(messages, ChatMessage{
				Role:       "tool",
				Content:    content,
				Name:       call.Function.Name,
				ToolCallID: call.ID,
			})
		}
	}
}

func appendUnique(list []string, item string) []string {
	for _, v := range list {
		if v == item {
			return list
		}
	}
	return append(list, item)
}
