// Command reindex walks the item catalog and re-runs the classification
// pipeline over every active item. Useful after adding skills or
// upgrading the reasoning model.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"
	"github.com/nidhogg/toolscope/internal/aggregate"
	"github.com/nidhogg/toolscope/internal/classifier"
	"github.com/nidhogg/toolscope/internal/config"
	"github.com/nidhogg/toolscope/internal/embedding"
	"github.com/nidhogg/toolscope/internal/refresh"
	pgstore "github.com/nidhogg/toolscope/internal/store"
	"github.com/nidhogg/toolscope/internal/suggest"
	"github.com/nidhogg/toolscope/internal/vectorstore"
	"go.uber.org/zap"
)

func main() {
	force := flag.Bool("force", false, "re-classify items that already have assignments")
	flag.Parse()

	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/toolscope.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}

	ctx := context.Background()

	store, err := pgstore.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("postgres unavailable", zap.Error(err))
	}
	defer store.Close()

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

	qdrant, err := vectorstore.NewClient(vectorstore.QdrantConfig{
		Host: cfg.Database.Qdrant.Host,
		Port: cfg.Database.Qdrant.Port,
	})
	if err != nil {
		logger.Fatal("qdrant unavailable", zap.Error(err))
	}
	defer qdrant.Close()
	index := vectorstore.NewIndex(qdrant, cfg.Collections.Skills, cfg.Collections.Items)

	aggregator := aggregate.New(store, index, embedder, nil, logger)
	queue := refresh.NewDirect(aggregator, logger)
	workflow := suggest.NewWorkflow(store, queue, index, suggest.Policy{
		AutoApprove: cfg.Suggestions.AutoApprove,
		Threshold:   cfg.Suggestions.AutoApproveThreshold,
	}, logger)
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

	items, err := store.ListItems(ctx, true)
	if err != nil {
		logger.Fatal("list items", zap.Error(err))
	}
	logger.Info("Reindexing catalog", zap.Int("items", len(items)), zap.Bool("force", *force))

	var classified, skipped, failed int
	for _, item := range items {
		outcome, err := pipeline.Classify(ctx, classifier.Request{
			ItemID:          item.ID,
			Name:            item.Name,
			Description:     item.Description,
			ForceReclassify: *force,
		})
		if err != nil {
			failed++
			logger.Warn("classification failed", zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		if outcome.Skipped {
			skipped++
			continue
		}
		classified++
	}

	logger.Info("Reindex complete",
		zap.Int("classified", classified),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed))
}
