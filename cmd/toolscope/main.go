package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/toolscope/internal/aggregate"
	"github.com/nidhogg/toolscope/internal/api"
	"github.com/nidhogg/toolscope/internal/classifier"
	"github.com/nidhogg/toolscope/internal/config"
	"github.com/nidhogg/toolscope/internal/embedding"
	"github.com/nidhogg/toolscope/internal/refresh"
	"github.com/nidhogg/toolscope/internal/search"
	pgstore "github.com/nidhogg/toolscope/internal/store"
	"github.com/nidhogg/toolscope/internal/suggest"
	"github.com/nidhogg/toolscope/internal/vectorstore"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting toolscope...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/toolscope.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Relational store
	store, err := pgstore.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("postgres unavailable", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(context.Background(), "migrations"); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Embedding provider
	embedder, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
		TimeoutMS: cfg.Embedding.TimeoutMS,
	})
	if err != nil {
		logger.Fatal("embedding provider", zap.Error(err))
	}

	// Vector index
	qdrant, err := vectorstore.NewClient(vectorstore.QdrantConfig{
		Host: cfg.Database.Qdrant.Host,
		Port: cfg.Database.Qdrant.Port,
	})
	if err != nil {
		logger.Fatal("qdrant unavailable", zap.Error(err))
	}
	defer qdrant.Close()
	index := vectorstore.NewIndex(qdrant, cfg.Collections.Skills, cfg.Collections.Items)
	dim := uint64(cfg.Embedding.Dimension)
	if dim == 0 {
		dim = 1024
	}
	if err := index.Init(context.Background(), dim); err != nil {
		logger.Fatal("vector index init failed", zap.Error(err))
	}

	// Description-embedding cache (optional)
	var descCache aggregate.DescriptionCache
	if cfg.Database.Redis.URL != "" {
		rc, rcErr := aggregate.NewRedisCache(cfg.Database.Redis.URL)
		if rcErr != nil {
			logger.Warn("Redis unavailable, description cache disabled", zap.Error(rcErr))
		} else {
			defer rc.Close()
			descCache = rc
		}
	}

	aggregator := aggregate.New(store, index, embedder, descCache, logger)

	// Refresh queue: synchronous by default, Redis Stream when configured.
	var queue refresh.Queue = refresh.NewDirect(aggregator, logger)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if cfg.Refresh.Mode == "stream" && cfg.Database.Redis.URL != "" {
		stream, sErr := refresh.NewStream(cfg.Database.Redis.URL, cfg.Refresh.Stream, logger)
		if sErr != nil {
			logger.Warn("refresh stream unavailable, using direct mode", zap.Error(sErr))
		} else {
			defer stream.Close()
			queue = stream
			worker := refresh.NewWorker(stream, aggregator, logger)
			go worker.Run(workerCtx)
			logger.Info("Refresh worker started", zap.String("stream", cfg.Refresh.Stream))
		}
	}

	// Suggestion workflow
	workflow := suggest.NewWorkflow(store, queue, index, suggest.Policy{
		AutoApprove: cfg.Suggestions.AutoApprove,
		Threshold:   cfg.Suggestions.AutoApproveThreshold,
	}, logger)

	// Classification pipeline
	llm := classifier.NewLLMClassifier(classifier.LLMConfig{
		Endpoint:  cfg.Classifier.Endpoint,
		Model:     cfg.Classifier.Model,
		APIKey:    cfg.Classifier.APIKey,
		TimeoutMS: cfg.Classifier.TimeoutMS,
	}, logger)
	pipeline := classifier.NewPipeline(store, llm, workflow, queue, index, classifier.PipelineConfig{
		MinConfidence:    cfg.Classify.MinConfidence,
		DescriptionLimit: cfg.Classify.DescriptionLimit,
	}, logger)

	// Search orchestrator
	orchestrator := search.NewOrchestrator(embedder, index, store, search.Config{
		SkillThreshold: cfg.Search.SkillThreshold,
		ToolThreshold:  cfg.Search.ToolThreshold,
		SkillLimit:     cfg.Search.SkillLimit,
		Limit:          cfg.Search.Limit,
		MaxQueryLength: cfg.Search.MaxQueryLength,
		EmbedTimeout:   time.Duration(cfg.Embedding.TimeoutMS) * time.Millisecond,
		VectorTimeout:  time.Duration(cfg.Search.VectorTimeoutMS) * time.Millisecond,
		DetailTimeout:  time.Duration(cfg.Search.DetailTimeoutMS) * time.Millisecond,
	}, logger)

	handler := api.NewHandler(orchestrator, pipeline, store, workflow, queue, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("toolscope listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down toolscope...")
	stopWorker()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
