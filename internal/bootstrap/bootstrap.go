// Package bootstrap builds the shared object graph used by the CLI and the
// API server from a loaded configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/analysis"
	"github.com/coverletter-agent/backend/internal/cache/redis"
	"github.com/coverletter-agent/backend/internal/feedback"
	"github.com/coverletter-agent/backend/internal/generation"
	"github.com/coverletter-agent/backend/internal/improver"
	"github.com/coverletter-agent/backend/internal/ingestion"
	"github.com/coverletter-agent/backend/internal/llm"
	"github.com/coverletter-agent/backend/internal/metrics"
	"github.com/coverletter-agent/backend/internal/retrieval"
	"github.com/coverletter-agent/backend/internal/scoring"
	"github.com/coverletter-agent/backend/internal/storage/sqlite"
	"github.com/coverletter-agent/backend/internal/vector"
	"github.com/coverletter-agent/backend/internal/vector/memory"
	"github.com/coverletter-agent/backend/internal/vector/zilliz"
	"github.com/coverletter-agent/backend/pkg/config"
	"github.com/coverletter-agent/backend/pkg/fsutil"
	"github.com/coverletter-agent/backend/pkg/logger"
)

type App struct {
	Config       *config.Config
	DB           *sqlite.Client
	Vectors      vector.Store
	LLM          *llm.Client
	Embedder     llm.Embedder
	Feedback     *feedback.Tracker
	Prompts      *improver.FilePromptStore
	Improver     *improver.Improver
	Orchestrator *generation.Orchestrator
	Processor    *ingestion.Processor

	closers []io.Closer
}

// New wires every component. Redis is optional: when it is enabled but
// unreachable the embedder runs uncached.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	metrics.Init()

	app := &App{Config: cfg}

	if err := fsutil.EnsureDir(filepath.Dir(cfg.SQLite.Path)); err != nil {
		return nil, err
	}
	db, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite client: %w", err)
	}
	app.closers = append(app.closers, db)
	if err := db.InitSchema(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	app.DB = db

	store, err := openVectorStore(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	if c, ok := store.(io.Closer); ok {
		app.closers = append(app.closers, c)
	}
	app.Vectors = store

	app.LLM = llm.NewClient(cfg.LLM)
	app.Embedder = app.LLM

	if cfg.Redis.Enabled {
		cache, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, embeddings will not be cached", zap.Error(err))
		} else {
			app.closers = append(app.closers, cache)
			ttl := time.Duration(cfg.Redis.EmbeddingTTLHours) * time.Hour
			app.Embedder = redis.NewCachingEmbedder(app.LLM, cache, cfg.LLM.EmbeddingModel, ttl)
		}
	}

	app.Feedback = feedback.NewTracker(feedback.NewFileStore(cfg.Feedback.HistoryPath))
	app.Prompts = improver.NewFilePromptStore(cfg.Generation.SystemPromptPath, generation.DefaultSystemPrompt)
	app.Improver = improver.New(app.LLM, cfg.LLM.Summary, app.Feedback, app.Prompts, cfg.Feedback.PatternThreshold)

	scorer := scoring.NewScorer(scoring.WeightsFromConfig(cfg.Scoring), time.Now().Year())
	retriever := retrieval.NewRetriever(app.Embedder, store, scorer, retrieval.Options{
		ResultsPerQuery:   cfg.Retrieval.ResultsPerQuery,
		DistanceThreshold: cfg.Retrieval.DistanceThreshold,
	})

	var critique generation.PromptSource
	if cfg.Generation.CritiquePromptPath != "" {
		critique = improver.NewFilePromptStore(cfg.Generation.CritiquePromptPath, generation.DefaultCritiquePrompt)
	}

	app.Orchestrator = generation.NewOrchestrator(generation.Deps{
		Analyzer:       analysis.NewAnalyzer(app.LLM, cfg.LLM.Analysis),
		Retriever:      retriever,
		LLM:            app.LLM,
		Applications:   db,
		Feedback:       app.Feedback,
		SystemPrompt:   app.Prompts,
		CritiquePrompt: critique,
	}, generation.OptionsFromConfig(cfg))

	app.Processor = ingestion.NewProcessor(store, app.Embedder, db, cfg.Ingestion)

	logger.Info("Application wired",
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("two_stage", cfg.Generation.TwoStage),
	)
	return app, nil
}

func openVectorStore(ctx context.Context, cfg *config.Config) (vector.Store, error) {
	switch cfg.Vector.Backend {
	case "zilliz":
		client, err := zilliz.NewClient(ctx, cfg.Zilliz.Endpoint, cfg.Zilliz.APIKey, cfg.Zilliz.CollectionName, cfg.Zilliz.VectorDim)
		if err != nil {
			return nil, fmt.Errorf("failed to create Zilliz client: %w", err)
		}
		if err := client.EnsureCollection(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to prepare collection: %w", err)
		}
		return client, nil
	default:
		store, err := memory.Open(cfg.Vector.MemoryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector snapshot: %w", err)
		}
		return store, nil
	}
}

// Close releases resources in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
