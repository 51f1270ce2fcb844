// Package policy evaluates tool execution and cacheability rules with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decision is the policy verdict for one tool in one tenant context.
type Decision struct {
	Allow     bool
	Cacheable bool
	Reason    string
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given rego content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the tool policy. Input keys: tool_name, tenant_id.
func (e *Engine) Evaluate(ctx context.Context, toolName, tenantID string) (*Decision, error) {
	input := map[string]interface{}{
		"tool_name": toolName,
		"tenant_id": tenantID,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, fmt.Errorf("policy produced no decision")
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected decision type %T", results[0].Expressions[0].Value)
	}

	decision := &Decision{}
	if v, ok := obj["allow"].(bool); ok {
		decision.Allow = v
	}
	if v, ok := obj["cacheable"].(bool); ok {
		decision.Cacheable = v
	}
	if v, ok := obj["reason"].(string); ok {
		decision.Reason = v
	}
	return decision, nil
}

// DefaultPolicy enumerates which tools may run and which answers may be
// cached. Tools whose results are per-student or change day to day are
// excluded from caching; tenant-wide, slowly-changing tools are not.
const DefaultPolicy = `
package tool_policy

import rego.v1

volatile_tools := {"student_search", "aging_report"}

default allow := true

allow := false if {
	input.tenant_id == ""
}

default cacheable := true

cacheable := false if {
	input.tool_name in volatile_tools
}

cacheable := false if {
	input.tenant_id == ""
}

reason := "missing tenant" if {
	input.tenant_id == ""
}

default reason := ""

decision := {"allow": allow, "cacheable": cacheable, "reason": reason}
`
