package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/driverag/backend/internal/cache/redis"
	"github.com/driverag/backend/internal/drive"
	"github.com/driverag/backend/internal/embedding"
	"github.com/driverag/backend/internal/gateway"
	"github.com/driverag/backend/internal/llm"
	"github.com/driverag/backend/internal/metrics"
	"github.com/driverag/backend/internal/query"
	"github.com/driverag/backend/internal/reconcile"
	"github.com/driverag/backend/internal/splitter"
	"github.com/driverag/backend/internal/storage/sqlite"
	"github.com/driverag/backend/internal/sweeper"
	"github.com/driverag/backend/internal/vector/milvus"
	"github.com/driverag/backend/pkg/logger"
)

// app holds the wired pipeline. reconciler and drive are nil unless the app
// was built with Drive access.
type app struct {
	sqlite      *sqlite.Client
	vector      *milvus.Client
	cache       *redis.Client
	gw          *gateway.Gateway
	llm         *llm.Client
	batcher     *embedding.Batcher
	queryEngine *query.Engine
	sweep       *sweeper.Sweeper
	drive       *drive.Client
	reconciler  *reconcile.Engine
}

func buildApp(ctx context.Context, withDrive bool) (*app, error) {
	log := logger.GetLogger()

	sq, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := sq.InitSchema(); err != nil {
		sq.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	mv, err := milvus.NewClient(cfg.Milvus.Endpoint, cfg.Milvus.APIKey, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
	if err != nil {
		sq.Close()
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}
	if err := mv.EnsureCollection(ctx); err != nil {
		sq.Close()
		mv.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	var cacheClient *redis.Client
	if cfg.Redis.Enabled {
		cacheClient, err = redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second,
		)
		if err != nil {
			log.Warn("Redis unavailable, caching disabled", zap.Error(err))
			cacheClient = nil
		}
	}

	gw := gateway.New(mv, sq, log)

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second,
	)

	var embedCache embedding.Cache
	var answerCache query.AnswerCache
	var invalidator reconcile.AnswerCache
	if cacheClient != nil {
		embedCache = cacheClient
		answerCache = cacheClient
		invalidator = cacheClient
	}

	batcher := embedding.NewBatcher(llmClient.Raw(), embedCache, log, embedding.Options{
		Model: cfg.LLM.EmbeddingModel,
	})

	queryEngine := query.NewEngine(
		batcher, gw, llmClient, answerCache,
		metrics.NewTracker(100),
		cfg.Query.TopK, cfg.Query.SimilarityThreshold,
		log,
	)

	a := &app{
		sqlite:      sq,
		vector:      mv,
		cache:       cacheClient,
		gw:          gw,
		llm:         llmClient,
		batcher:     batcher,
		queryEngine: queryEngine,
		sweep:       sweeper.New(gw, log),
	}

	if withDrive {
		dc, err := drive.NewClient(ctx, cfg.Drive.CredentialsPath, cfg.Drive.FolderID, cfg.Drive.DownloadDir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to drive: %w", err)
		}
		sp := splitter.NewSplitter(cfg.Splitter.ChunkSize, cfg.Splitter.ChunkOverlap, log)

		a.drive = dc
		a.reconciler = reconcile.NewEngine(dc, sp, batcher, gw, invalidator, log)
	}

	return a, nil
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.vector != nil {
		a.vector.Close()
	}
	if a.sqlite != nil {
		a.sqlite.Close()
	}
}
