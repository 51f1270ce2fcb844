// Package tools holds the closed set of domain functions the model may call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alumnia/assistant/domain"
	"github.com/alumnia/assistant/llm"
)

// ExecutorFunc runs a tool for one tenant. The tenant always comes from
// the request context, never from model-supplied arguments.
type ExecutorFunc func(ctx context.Context, tenantID string, args json.RawMessage) (json.RawMessage, error)

// Tool is one registered domain function.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Execute     ExecutorFunc
}

// Registry stores tools keyed by name. The set is fixed at startup;
// dispatch is always a table lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
	}
}

// Register adds a tool.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Execute == nil {
		return fmt.Errorf("executor is required for %s", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool already registered: %s", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// MustRegister adds a tool or panics.
func (r *Registry) MustRegister(t *Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Execute runs the named tool for a tenant.
func (r *Registry) Execute(ctx context.Context, tenantID, name string, args json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	t := r.tools[name]
	r.mu.RUnlock()
	if t == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, name)
	}
	return t.Execute(ctx, tenantID, args)
}

// Definitions renders the registered tools for the model, in registration
// order.
func (r *Registry) Definitions() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.Tool{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return defs
}
