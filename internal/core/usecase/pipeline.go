package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
	"github.com/kirillkom/sci-librarian/internal/core/ports"
)

// Observer receives purely observational progress callbacks from the
// pipeline. It has no effect on correctness.
type Observer interface {
	JobStarted()
	JobFinished(status domain.Status, elapsed time.Duration)
	RecordUpload(err error)
	RecordIndexRebuild(err error)
	ObserveBatchDuration(elapsed time.Duration)
}

// Pipeline runs the concurrent stage: a bounded worker pool executes the
// pure extract/classify pipeline per document, a single collector applies
// every ledger transition and triggers upload and index rebuilds.
type Pipeline struct {
	ledger     ports.Ledger
	work       ports.WorkStore
	extractor  ports.TextExtractor
	classifier ports.Classifier
	events     ports.EventPublisher
	uploader   *Uploader
	indexer    *Indexer
	rules      domain.RuleSet
	observer   Observer
	logger     *slog.Logger
}

type ProcessOptions struct {
	Workers int
	// RetryErrors additionally selects ids resting in error, re-attempting
	// the transition they failed. Off by default; error ids otherwise wait
	// for manual intervention.
	RetryErrors bool
}

type ProcessSummary struct {
	Jobs    int
	Counts  map[domain.Status]int
	Folders []domain.RemotePath
}

func NewPipeline(
	ledger ports.Ledger,
	work ports.WorkStore,
	extractor ports.TextExtractor,
	classifier ports.Classifier,
	events ports.EventPublisher,
	uploader *Uploader,
	indexer *Indexer,
	rules domain.RuleSet,
	observer Observer,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		ledger:     ledger,
		work:       work,
		extractor:  extractor,
		classifier: classifier,
		events:     events,
		uploader:   uploader,
		indexer:    indexer,
		rules:      rules,
		observer:   observer,
		logger:     logger,
	}
}

// Process drains all downloaded ids through the worker pool and applies the
// results. Workers never touch the ledger; results flow over a channel to
// the collector running in this goroutine. After the batch drains, newly
// processed ids are uploaded and every touched folder gets its index rebuilt.
func (p *Pipeline) Process(ctx context.Context, opts ProcessOptions) (ProcessSummary, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	statuses := []domain.Status{domain.StatusDownloaded}
	if opts.RetryErrors {
		statuses = append(statuses, domain.StatusError)
	}
	batch, err := p.ledger.ListByStatus(ctx, 0, statuses...)
	if err != nil {
		return ProcessSummary{}, fmt.Errorf("list downloaded: %w", err)
	}
	if len(batch) == 0 {
		p.logger.Info("no documents to process")
		return ProcessSummary{}, nil
	}
	if p.observer != nil {
		start := time.Now()
		defer func() { p.observer.ObserveBatchDuration(time.Since(start)) }()
	}

	jobs := make(chan domain.Job, len(batch))
	results := make(chan domain.JobResult, len(batch))
	for _, rec := range batch {
		jobs <- domain.Job{ID: rec.ID, Name: rec.Name, Path: rec.Path}
	}
	close(jobs)

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(poolCtx)
	for i := 0; i < workers; i++ {
		worker := i
		g.Go(func() error {
			return p.runWorker(gctx, worker, jobs, results)
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	collector := NewCollector(p.ledger, p.events, batch, p.logger)
	var applyErr error
	for res := range results {
		if applyErr != nil {
			continue // drain; the ledger writer failed, stop mutating
		}
		if err := collector.Apply(ctx, res); err != nil {
			applyErr = err
			cancel()
		}
	}
	if applyErr != nil {
		return ProcessSummary{}, applyErr
	}

	if err := p.finishBatch(ctx, collector); err != nil {
		return ProcessSummary{Jobs: len(batch), Counts: collector.Counts()}, err
	}

	summary := ProcessSummary{
		Jobs:    len(batch),
		Counts:  collector.Counts(),
		Folders: collector.TouchedFolders(),
	}

	p.logger.Info("process complete",
		"jobs", summary.Jobs,
		"processed", summary.Counts[domain.StatusProcessed],
		"archived", summary.Counts[domain.StatusArchived],
		"skipped", summary.Counts[domain.StatusSkipped],
		"errors", summary.Counts[domain.StatusError],
	)
	return summary, nil
}

// runWorker pulls jobs until the queue closes or the context is cancelled.
// A cancelled worker stops pulling but its current job runs to completion
// (or clean failure) so no half-applied state reaches the collector.
func (p *Pipeline) runWorker(ctx context.Context, worker int, jobs <-chan domain.Job, results chan<- domain.JobResult) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, ok := <-jobs
		if !ok {
			return nil
		}
		if p.observer != nil {
			p.observer.JobStarted()
		}
		start := time.Now()
		res := p.runJob(ctx, job)
		elapsed := time.Since(start)
		if p.observer != nil {
			p.observer.JobFinished(outcomeStatus(res), elapsed)
		}
		p.logger.Debug("job finished",
			"worker", worker, "id", job.ID, "name", job.Name,
			"elapsed", elapsed, "error", res.Err)
		results <- res
	}
}

// outcomeStatus mirrors the collector's result mapping, for observation only.
func outcomeStatus(res domain.JobResult) domain.Status {
	switch {
	case res.Err == nil:
		return domain.StatusProcessed
	case domain.IsKind(res.Err, domain.ErrNoExtractableText):
		return domain.StatusSkipped
	default:
		return domain.StatusError
	}
}

// runJob is the pure per-document pipeline: read the local copy, extract a
// bounded text prefix, classify against the shared rule set. Failures are
// data, never faults.
func (p *Pipeline) runJob(ctx context.Context, job domain.Job) domain.JobResult {
	fail := func(err error) domain.JobResult {
		return domain.JobResult{ID: job.ID, Err: err}
	}

	reader, err := p.work.Open(ctx, job.ID)
	if err != nil {
		return fail(fmt.Errorf("open local copy: %w", err))
	}
	content, err := io.ReadAll(reader)
	_ = reader.Close()
	if err != nil {
		return fail(fmt.Errorf("read local copy: %w", err))
	}

	text, err := p.extractor.Extract(ctx, content)
	if err != nil {
		return fail(err)
	}

	meta, matched, err := p.classifier.Classify(ctx, text, p.rules)
	if err != nil {
		return fail(fmt.Errorf("classify: %w", err))
	}

	return domain.JobResult{
		ID:            job.ID,
		Meta:          meta,
		TargetFolders: domain.TargetFolders(matched),
	}
}

// finishBatch uploads newly processed ids and rebuilds indexes for every
// folder the batch touched.
func (p *Pipeline) finishBatch(ctx context.Context, collector *Collector) error {
	for _, id := range collector.Processed() {
		rec, err := p.ledger.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("reload %s for upload: %w", id, err)
		}
		if len(rec.TargetFolders) == 0 {
			continue
		}
		uploadErr := p.uploader.UploadOne(ctx, *rec)
		if p.observer != nil {
			p.observer.RecordUpload(uploadErr)
		}
		if err := collector.ApplyUpload(ctx, id, uploadErr); err != nil {
			return err
		}
	}
	for _, folder := range collector.TouchedFolders() {
		err := p.indexer.Rebuild(ctx, folder)
		if p.observer != nil {
			p.observer.RecordIndexRebuild(err)
		}
		if err != nil {
			p.logger.Warn("index rebuild failed", "folder", folder, "error", err)
		}
	}
	return nil
}
