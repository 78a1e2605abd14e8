package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/winnow/internal/config"
	"github.com/kirillkom/winnow/internal/core/ports"
	"github.com/kirillkom/winnow/internal/core/usecase"
	"github.com/kirillkom/winnow/internal/infrastructure/chunking"
	"github.com/kirillkom/winnow/internal/infrastructure/dedup"
	"github.com/kirillkom/winnow/internal/infrastructure/extractor"
	"github.com/kirillkom/winnow/internal/infrastructure/lexical"
	"github.com/kirillkom/winnow/internal/infrastructure/lineage"
	"github.com/kirillkom/winnow/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/winnow/internal/infrastructure/queue/nats"
	"github.com/kirillkom/winnow/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/winnow/internal/infrastructure/rerank"
	"github.com/kirillkom/winnow/internal/infrastructure/resilience"
	"github.com/kirillkom/winnow/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/winnow/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/winnow/internal/observability/logging"
	"github.com/kirillkom/winnow/internal/observability/metrics"
)

// App owns the wired object graph shared by every process. Which surfaces a
// process actually serves is decided in its main; the wiring is identical so
// the API, the worker, and the MCP server never disagree about semantics.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Registry ports.DocumentRegistry
	Storage  ports.ObjectStorage
	Queue    ports.MessageQueue

	SubmitUC  ports.IngestSubmitter
	IngestUC  ports.DocumentIngestor
	ProcessUC *usecase.ProcessJobUseCase
	QueryUC   ports.EvidenceQueryService
	ReaderUC  ports.DocumentReader

	ServerMetrics   *metrics.HTTPServerMetrics
	PipelineMetrics *metrics.PipelineMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	logger := logging.NewJSONLogger(service, cfg.LogLevel)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	registry := postgres.NewRegistry(db)
	if err := registry.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: resilience.NewExecutor(resilience.IngestProfile()),
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	// One executor per backend keeps breaker state per backend.
	embedder := ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, cfg.EmbedRateLimit, cfg.EmbedBurst,
		resilience.NewExecutor(resilience.IngestProfile()))
	dense := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection,
		resilience.NewExecutor(resilience.IngestProfile()))
	scorer := rerank.New(cfg.RerankerURL, cfg.RerankerModel,
		resilience.NewExecutor(resilience.QueryProfile()))

	lexIndex, err := lexical.New(cfg.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	var lineageRecorder ports.LineageRecorder
	var closeLineage func()
	if cfg.Neo4jURI != "" {
		recorder, err := lineage.New(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return nil, fmt.Errorf("init lineage recorder: %w", err)
		}
		lineageRecorder = recorder
		closeLineage = func() { _ = recorder.Close(context.Background()) }
	}

	extract := extractor.NewRouter()
	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.OverlapFraction)
	detector := dedup.NewDetector(cfg.DedupThreshold)

	ingestUC := usecase.NewIngestUseCase(
		registry, storage, extract, chunker, detector,
		embedder, dense, lexIndex, lineageRecorder,
		usecase.IngestConfig{EmbedBatchSize: cfg.EmbedBatchSize},
		logger,
	)
	// No external confidence provider is wired; the gate runs on a neutral
	// signal until one exists.
	queryUC := usecase.NewQueryUseCase(
		embedder, dense, lexIndex, scorer, nil, registry,
		searchConfig(cfg),
		logger,
	)
	submitUC := usecase.NewSubmitUseCase(storage, queue, logger)
	processUC := usecase.NewProcessJobUseCase(storage, ingestUC, logger)
	readerUC := usecase.NewReaderUseCase(registry)

	serverMetrics := metrics.NewHTTPServerMetrics(service)
	pipelineMetrics := metrics.NewPipelineMetrics()
	serverMetrics.Register(pipelineMetrics.Collectors()...)

	return &App{
		Config: cfg,
		Logger: logger,

		Registry: registry,
		Storage:  storage,
		Queue:    queue,

		SubmitUC:  submitUC,
		IngestUC:  ingestUC,
		ProcessUC: processUC,
		QueryUC:   queryUC,
		ReaderUC:  readerUC,

		ServerMetrics:   serverMetrics,
		PipelineMetrics: pipelineMetrics,

		closeFn: func() {
			queue.Close()
			if err := lexIndex.Close(); err != nil {
				logger.Warn("close lexical index", "error", err)
			}
			if closeLineage != nil {
				closeLineage()
			}
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func searchConfig(cfg config.Config) usecase.SearchConfig {
	return usecase.SearchConfig{
		TopKDense:       cfg.TopKDense,
		TopKLexical:     cfg.TopKLexical,
		FusionK:         cfg.FusionRRFK,
		FusionTopM:      cfg.FusionTopM,
		RerankBatchSize: cfg.RerankBatchSize,
		MMRLambda:       cfg.MMRLambda,
		FinalTopN:       cfg.FinalTopN,
		QueryTimeout:    time.Duration(cfg.QueryTimeoutMs) * time.Millisecond,
		BackendTimeout:  time.Duration(cfg.BackendTimeoutMs) * time.Millisecond,
		RerankTimeout:   time.Duration(cfg.RerankTimeoutMs) * time.Millisecond,
		Abstention: usecase.AbstentionConfig{
			ScoreFloor:        cfg.ScoreFloor,
			DisagreementFloor: cfg.DisagreementFloor,
			MinConfidence:     cfg.MinConfidence,
		},
	}
}
