package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/alumnia/assistant/domain"
)

// PrunedContext is what the pruner hands to the prompt builder: the rolling
// summary plus the most recent turns verbatim.
type PrunedContext struct {
	Summary string
	Recent  []domain.Message
}

const summaryPrompt = `Resume la siguiente conversación entre un usuario y el asistente de una institución educativa.
Conserva los hechos concretos (nombres, cifras, programas, acuerdos) y omite saludos y relleno.
Responde solo con el resumen, en un párrafo.

Resumen previo:
%s

Conversación:
%s`

// Prune bounds the conversation context. The most recent window of turns
// is kept verbatim; when the full history exceeds the token budget the
// older turns are compressed into an updated summary that replaces the
// stored one. Summarization failure is non-fatal: the caller gets the
// recent window with no summary.
func (s *Service) Prune(ctx context.Context, conv *domain.Conversation, history []domain.Message) *PrunedContext {
	window := s.config.RecentTurnWindow * 2 // user + assistant rows per turn
	if window <= 0 {
		window = 16
	}

	if len(history) <= window {
		return &PrunedContext{Summary: conv.Summary, Recent: history}
	}

	recent := history[len(history)-window:]
	older := history[:len(history)-window]

	if s.estimateTokens(renderTurns(history))+s.estimateTokens(conv.Summary) <= s.config.HistoryTokenBudget {
		return &PrunedContext{Summary: conv.Summary, Recent: recent}
	}

	if s.summarizer == nil {
		return &PrunedContext{Recent: recent}
	}

	prompt := fmt.Sprintf(summaryPrompt, orNone(conv.Summary), renderTurns(older))
	summary, err := llms.GenerateFromSinglePrompt(ctx, s.summarizer, prompt,
		llms.WithModel(s.config.SummaryModel))
	if err != nil {
		s.logger.Warn("history summarization failed, falling back to recent turns",
			zap.String("conversation_id", conv.ConversationID), zap.Error(err))
		return &PrunedContext{Recent: recent}
	}
	summary = strings.TrimSpace(summary)

	// Replace, never append: the stored summary is the single rolling
	// compression of everything before the recent window.
	if err := s.store.UpdateConversationSummary(ctx, conv.ConversationID, summary); err != nil {
		s.logger.Warn("failed to persist conversation summary",
			zap.String("conversation_id", conv.ConversationID), zap.Error(err))
	}

	return &PrunedContext{Summary: summary, Recent: recent}
}

func renderTurns(messages []domain.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "(ninguno)"
	}
	return s
}
