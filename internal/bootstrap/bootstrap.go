package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kirillkom/sci-librarian/internal/config"
	"github.com/kirillkom/sci-librarian/internal/core/domain"
	"github.com/kirillkom/sci-librarian/internal/core/ports"
	"github.com/kirillkom/sci-librarian/internal/core/usecase"
	"github.com/kirillkom/sci-librarian/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/sci-librarian/internal/infrastructure/ledger/postgres"
	"github.com/kirillkom/sci-librarian/internal/infrastructure/llm/mistral"
	"github.com/kirillkom/sci-librarian/internal/infrastructure/remote/dropbox"
	"github.com/kirillkom/sci-librarian/internal/infrastructure/resilience"
	"github.com/kirillkom/sci-librarian/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/sci-librarian/internal/observability/logging"
	"github.com/kirillkom/sci-librarian/internal/observability/metrics"

	natsevents "github.com/kirillkom/sci-librarian/internal/infrastructure/events/nats"
)

// App wires every adapter and use case for one CLI invocation. RunID tags
// logs and published events so runs can be correlated.
type App struct {
	Config config.Config
	Logger *slog.Logger
	RunID  string

	Ledger  ports.Ledger
	Remote  ports.RemoteStore
	Events  ports.EventPublisher
	Rules   domain.RuleSet
	Metrics *metrics.PipelineMetrics

	Scanner  *usecase.Scanner
	Fetcher  *usecase.Fetcher
	Pipeline *usecase.Pipeline
	Uploader *usecase.Uploader
	Indexer  *usecase.Indexer

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, ruleSet domain.RuleSet) (*App, error) {
	runID := uuid.NewString()
	logger := logging.NewJSONLogger("sci-librarian", cfg.LogLevel).With("run_id", runID)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ledger := postgres.NewLedger(db)
	if err := ledger.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	work, err := localfs.New(cfg.WorkDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init working storage: %w", err)
	}

	remote := dropbox.New(cfg.DropboxToken, cfg.AllowedUploadPrefix, dropbox.Options{
		Limiter:  rate.NewLimiter(rate.Limit(cfg.DropboxRPS), 1),
		Executor: resilience.NewExecutor(resilience.DefaultConfig()),
	})

	classifier := mistral.New(cfg.MistralAPIKey, mistral.Options{
		Model:    cfg.MistralModel,
		Limiter:  rate.NewLimiter(rate.Limit(cfg.MistralRPS), 1),
		Executor: resilience.NewExecutor(resilience.DefaultConfig()),
	}, logger)

	extractor := pdftext.NewExtractor(cfg.MaxPages, logger)
	pipelineMetrics := metrics.NewPipelineMetrics("sci-librarian")

	var events ports.EventPublisher
	var closeEvents func()
	if cfg.NATSURL != "" {
		publisher, err := natsevents.New(cfg.NATSURL, cfg.NATSSubject, runID, natsevents.Options{
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init event publisher: %w", err)
		}
		events = publisher
		closeEvents = publisher.Close
	}

	uploader := usecase.NewUploader(remote, work, logger)
	indexer := usecase.NewIndexer(ledger, remote, logger)

	return &App{
		Config:  cfg,
		Logger:  logger,
		RunID:   runID,
		Ledger:  ledger,
		Remote:  remote,
		Events:  events,
		Rules:   ruleSet,
		Metrics: pipelineMetrics,

		Scanner:  usecase.NewScanner(ledger, remote, cfg.InboxPath, logger),
		Fetcher:  usecase.NewFetcher(ledger, remote, work, logger),
		Pipeline: usecase.NewPipeline(ledger, work, extractor, classifier, events, uploader, indexer, ruleSet, pipelineMetrics, logger),
		Uploader: uploader,
		Indexer:  indexer,

		closeFn: func() {
			if closeEvents != nil {
				closeEvents()
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
