package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/genchat/backend/internal/config"
	"github.com/zhouzirui/genchat/backend/internal/handler"
	"github.com/zhouzirui/genchat/backend/internal/logging"
	"github.com/zhouzirui/genchat/backend/internal/model/preset"
	"github.com/zhouzirui/genchat/backend/internal/service/ai"
	"github.com/zhouzirui/genchat/backend/internal/service/chat"
	"github.com/zhouzirui/genchat/backend/internal/service/conversation"
	"github.com/zhouzirui/genchat/backend/internal/service/rag"
	"github.com/zhouzirui/genchat/backend/internal/service/session"
	"github.com/zhouzirui/genchat/backend/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	backend := conversation.NewService()

	// A nil Model disables generation; never wrap a nil *ai.Service.
	var model transport.Model
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI, logger)
		if err != nil {
			logger.Warn("failed to initialize AI service, continuing without generation", zap.Error(err))
		} else {
			model = aiService
			logger.Info("AI service initialized", zap.String("model", cfg.AI.Model))
		}
	} else {
		logger.Info("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	adapter := transport.New(model, backend, logger)
	store := session.NewStore(session.WithLogger(logger.Named("session")))
	engine := chat.NewEngine(store, adapter,
		chat.WithLogger(logger),
		chat.WithTitleTimeout(cfg.Chat.TitleTimeout),
	)

	var documents []rag.Document
	if cfg.RAG.DocsDir != "" {
		docs, err := rag.LoadDocuments(cfg.RAG.DocsDir)
		if err != nil {
			return fmt.Errorf("load reference documents: %w", err)
		}
		documents = docs
		logger.Info("reference documents loaded", zap.String("dir", cfg.RAG.DocsDir), zap.Int("documents", len(docs)))
	}

	router := handler.NewRouter(handler.Deps{
		Presets:           preset.NewMemoryStore(preset.Seed()),
		Engine:            engine,
		Conversations:     backend,
		Predictor:         adapter,
		ExtractRetryLimit: cfg.Chat.ExtractRetryLimit,
		Retriever:         rag.NewMemoryRetriever(documents),
		RAGTopK:           cfg.RAG.TopK,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		Logger:            logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("genchat backend listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		// Let background title inference finish before exiting.
		engine.Wait()
		logger.Info("server stopped")
		return nil
	})

	return g.Wait()
}
