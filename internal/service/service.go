// Package service implements the chat-turn orchestration pipeline.
package service

import (
	"context"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/alumnia/assistant/config"
	"github.com/alumnia/assistant/internal/tools"
	"github.com/alumnia/assistant/llm"
	"github.com/alumnia/assistant/policy"
	"github.com/alumnia/assistant/store"
)

// Embedder produces a query embedding for retrieval. Satisfied by
// langchaingo's embeddings.Embedder.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Service composes the pipeline stages. Summarizer and embedder are
// optional; when nil the pruner skips summarization and retrieval degrades
// to no extra context.
type Service struct {
	store      store.Store
	gateway    *llm.Gateway
	registry   *tools.Registry
	policy     *policy.Engine
	summarizer llms.Model
	embedder   Embedder
	config     *config.Config
	logger     *zap.Logger

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
}

// New creates the service.
func New(st store.Store, gateway *llm.Gateway, registry *tools.Registry, policyEngine *policy.Engine,
	summarizer llms.Model, embedder Embedder, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		store:      st,
		gateway:    gateway,
		registry:   registry,
		policy:     policyEngine,
		summarizer: summarizer,
		embedder:   embedder,
		config:     cfg,
		logger:     logger,
		limiters:   make(map[string]*rate.Limiter),
	}
}
