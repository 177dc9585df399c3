package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finflowhq/ledgerdocs/internal/config"
	"github.com/finflowhq/ledgerdocs/internal/core/ports"
	"github.com/finflowhq/ledgerdocs/internal/core/rules"
	"github.com/finflowhq/ledgerdocs/internal/core/usecase"
	"github.com/finflowhq/ledgerdocs/internal/infrastructure/extraction"
	"github.com/finflowhq/ledgerdocs/internal/infrastructure/export/xlsx"
	"github.com/finflowhq/ledgerdocs/internal/infrastructure/mapping"
	"github.com/finflowhq/ledgerdocs/internal/infrastructure/queue/nats"
	"github.com/finflowhq/ledgerdocs/internal/infrastructure/repository/postgres"
	"github.com/finflowhq/ledgerdocs/internal/infrastructure/resilience"
	"github.com/finflowhq/ledgerdocs/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue ports.JobQueue
	Docs  ports.DocumentRepository
	Rules ports.RuleRepository

	Engine    ports.RuleEvaluator
	IngestUC  ports.DocumentIngestor
	ProcessUC ports.JobProcessor
	ReviewUC  ports.DocumentReviewer
	ExportUC  ports.LedgerExportService

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	docs := postgres.NewDocumentRepository(db)
	ruleRepo := postgres.NewRuleRepository(db)
	audit := postgres.NewAuditRepository(db)
	for _, ensure := range []func(context.Context) error{
		docs.EnsureSchema, ruleRepo.EnsureSchema, audit.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
		Concurrency:        cfg.WorkerConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("init job queue: %w", err)
	}

	// Without an OCR endpoint, extraction falls back to the zero-cost local
	// PDF text layer.
	var extractor ports.Extractor
	if cfg.OCRServiceURL != "" {
		extractor = extraction.NewClient(cfg.OCRServiceURL, cfg.OCRAPIKey, storage, extraction.Options{
			RequestsPerSecond:  cfg.OCRRatePerSec,
			ResilienceExecutor: executor,
		})
	} else {
		extractor = extraction.NewPDFTextExtractor(storage)
	}

	suggestions := mapping.NewClient(cfg.MappingURL, cfg.MappingAPIKey, mapping.Options{
		RequestTimeout:     time.Duration(cfg.MappingTimeout) * time.Second,
		ResilienceExecutor: executor,
	})

	engine := rules.NewEngine(ruleRepo, rules.Config{
		AutoApplyThreshold: cfg.RuleAutoApplyThreshold,
		SuggestThreshold:   cfg.RuleSuggestThreshold,
	})
	mapper := usecase.NewMapDocumentUseCase(suggestions, engine)

	ingestUC := usecase.NewIngestDocumentUseCase(docs, storage, queue)
	processUC := usecase.NewProcessJobUseCase(docs, extractor, mapper, audit, logger)
	reviewUC := usecase.NewReviewUseCase(docs, ruleRepo, engine, mapper, audit, queue, logger)
	exportUC := usecase.NewExportUseCase(docs, xlsx.New())

	return &App{
		Config: cfg,
		Logger: logger,

		Queue: queue,
		Docs:  docs,
		Rules: ruleRepo,

		Engine:    engine,
		IngestUC:  ingestUC,
		ProcessUC: processUC,
		ReviewUC:  reviewUC,
		ExportUC:  exportUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
