package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/alumnia/assistant/config"
	"github.com/alumnia/assistant/internal/service"
	"github.com/alumnia/assistant/internal/tools"
	transport "github.com/alumnia/assistant/internal/transport/http"
	"github.com/alumnia/assistant/llm"
	"github.com/alumnia/assistant/policy"
	"github.com/alumnia/assistant/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg := config.Load()

	logger.Info("starting assistant",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("database", cfg.DatabaseURL),
		zap.Int("providers", len(cfg.Providers)))

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.Error(err))
	}
	defer db.Close()

	// Initialize provider chain
	providers := make([]llm.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, llm.NewClient(p.Name, p.BaseURL, p.APIKey, p.Model, cfg.LLMTimeout))
	}
	gateway := llm.NewGateway(providers, cfg.MaxOutputTokens, cfg.MaxToolRounds, logger)

	// Initialize tool registry
	registry := tools.NewBuiltinRegistry(db)

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		logger.Fatal("failed to initialize policy engine", zap.Error(err))
	}

	// Summarizer and embedder ride on the primary provider credentials.
	// Both are optional: without them pruning skips summarization and
	// retrieval degrades to no extra context.
	var summarizer llms.Model
	var embedder service.Embedder
	if primary := cfg.Providers[0]; primary.APIKey != "" {
		lcm, err := lcopenai.New(
			lcopenai.WithToken(primary.APIKey),
			lcopenai.WithBaseURL(primary.BaseURL+"/v1"),
			lcopenai.WithModel(cfg.SummaryModel),
		)
		if err != nil {
			logger.Warn("failed to initialize summary model, continuing without", zap.Error(err))
		} else {
			summarizer = lcm
			emb, err := embeddings.NewEmbedder(lcm)
			if err != nil {
				logger.Warn("failed to initialize embedder, continuing without", zap.Error(err))
			} else {
				embedder = emb
			}
		}
	}

	// Initialize service
	svc := service.New(db, gateway, registry, policyEngine, summarizer, embedder, cfg, logger)

	// Create server
	server := transport.NewServer(svc, logger)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("assistant started", zap.Int("port", cfg.HTTPPort))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down assistant")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", zap.Error(err))
	}

	logger.Info("assistant stopped")
}
