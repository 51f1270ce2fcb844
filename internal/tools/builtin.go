package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alumnia/assistant/store"
)

// NewBuiltinRegistry builds the fixed tool set over the CRM read queries.
func NewBuiltinRegistry(st store.Store) *Registry {
	r := NewRegistry()

	r.MustRegister(&Tool{
		Name: "revenue_stats",
		Description: "Aggregate payment statistics for the institution: number of payments " +
			"collected, total collected and total outstanding for a period. Use it for " +
			"questions about revenue, collections or how much money came in.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"period": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"week", "month", "quarter", "year"},
					"description": "Reporting period, counted back from today. Defaults to month.",
				},
			},
		},
		Execute: func(ctx context.Context, tenantID string, args json.RawMessage) (json.RawMessage, error) {
			var in struct {
				Period string `json:"period"`
			}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
			}
			stats, err := st.RevenueStats(ctx, tenantID, periodStart(in.Period, time.Now()))
			if err != nil {
				return nil, fmt.Errorf("revenue query failed: %w", err)
			}
			return json.Marshal(stats)
		},
	})

	r.MustRegister(&Tool{
		Name: "program_catalog",
		Description: "List the institution's academic programs with modality and price. " +
			"Use it for questions about what programs exist or what they cost.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"active_only": map[string]interface{}{
					"type":        "boolean",
					"description": "Only return programs currently open for enrollment.",
				},
			},
		},
		Execute: func(ctx context.Context, tenantID string, args json.RawMessage) (json.RawMessage, error) {
			var in struct {
				ActiveOnly bool `json:"active_only"`
			}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
			}
			programs, err := st.ListPrograms(ctx, tenantID, in.ActiveOnly)
			if err != nil {
				return nil, fmt.Errorf("catalog query failed: %w", err)
			}
			return json.Marshal(map[string]interface{}{"programs": programs})
		},
	})

	r.MustRegister(&Tool{
		Name: "aging_report",
		Description: "Collections aging report: unpaid balances bucketed by days overdue " +
			"(0-30, 31-60, 61-90, 90+). Use it for questions about overdue payments or debt.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Execute: func(ctx context.Context, tenantID string, args json.RawMessage) (json.RawMessage, error) {
			buckets, err := st.AgingReport(ctx, tenantID)
			if err != nil {
				return nil, fmt.Errorf("aging query failed: %w", err)
			}
			return json.Marshal(map[string]interface{}{"buckets": buckets})
		},
	})

	r.MustRegister(&Tool{
		Name: "student_search",
		Description: "Fuzzy search for a student by name or email. Returns matching students " +
			"with program, status and balance. Use it when the user asks about a specific student.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Partial name or email to search for.",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum matches to return (default 10, max 20).",
				},
			},
			"required": []string{"query"},
		},
		Execute: func(ctx context.Context, tenantID string, args json.RawMessage) (json.RawMessage, error) {
			var in struct {
				Query string `json:"query"`
				Limit int    `json:"limit"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			if in.Query == "" {
				return nil, fmt.Errorf("query is required")
			}
			students, err := st.SearchStudents(ctx, tenantID, in.Query, in.Limit)
			if err != nil {
				return nil, fmt.Errorf("student search failed: %w", err)
			}
			return json.Marshal(map[string]interface{}{"students": students})
		},
	})

	r.MustRegister(&Tool{
		Name: "advisor_performance",
		Description: "Per-advisor rollup of enrolled students and collected revenue. " +
			"Use it for questions about how advisors or the sales team are performing.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Execute: func(ctx context.Context, tenantID string, args json.RawMessage) (json.RawMessage, error) {
			stats, err := st.AdvisorPerformance(ctx, tenantID)
			if err != nil {
				return nil, fmt.Errorf("advisor query failed: %w", err)
			}
			return json.Marshal(map[string]interface{}{"advisors": stats})
		},
	})

	return r
}

// periodStart maps a reporting period to its start time.
func periodStart(period string, now time.Time) time.Time {
	switch period {
	case "week":
		return now.AddDate(0, 0, -7)
	case "quarter":
		return now.AddDate(0, -3, 0)
	case "year":
		return now.AddDate(-1, 0, 0)
	default:
		return now.AddDate(0, -1, 0)
	}
}
