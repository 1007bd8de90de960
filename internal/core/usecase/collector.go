package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
	"github.com/kirillkom/sci-librarian/internal/core/ports"
)

// Collector is the single component authorized to mutate the ledger while a
// batch is in flight. It consumes job results one at a time, applies exactly
// one transition per result, and accumulates the downstream work (uploads,
// index rebuilds) a batch produces. Ledger write failures are fatal: without
// its writer the pipeline cannot make progress.
type Collector struct {
	ledger ports.Ledger
	events ports.EventPublisher
	logger *slog.Logger

	prior     map[domain.RemoteID]domain.DocumentRecord
	applied   map[domain.RemoteID]bool
	counts    map[domain.Status]int
	processed []domain.RemoteID
	folders   []domain.RemotePath
	seenDirs  map[domain.RemotePath]bool
}

func NewCollector(ledger ports.Ledger, events ports.EventPublisher, batch []domain.DocumentRecord, logger *slog.Logger) *Collector {
	prior := make(map[domain.RemoteID]domain.DocumentRecord, len(batch))
	for _, rec := range batch {
		prior[rec.ID] = rec
	}
	return &Collector{
		ledger:   ledger,
		events:   events,
		logger:   logger,
		prior:    prior,
		applied:  make(map[domain.RemoteID]bool),
		counts:   make(map[domain.Status]int),
		seenDirs: make(map[domain.RemotePath]bool),
	}
}

// Apply consumes one job result. The outcome set is closed: success,
// no-extractable-text (skipped), cancellation (no mutation, the id resumes
// from downloaded) and every other failure (error).
func (c *Collector) Apply(ctx context.Context, res domain.JobResult) error {
	if c.applied[res.ID] {
		return fmt.Errorf("duplicate result for %s", res.ID)
	}
	c.applied[res.ID] = true

	switch {
	case res.Err == nil:
		return c.applySuccess(ctx, res)
	case errors.Is(res.Err, context.Canceled):
		// Interrupted in flight: leave the last durable status untouched.
		c.logger.Info("job cancelled, left for resume", "id", res.ID)
		return nil
	case domain.IsKind(res.Err, domain.ErrNoExtractableText):
		return c.applyTransition(ctx, res.ID, domain.StatusSkipped, res.Err.Error())
	default:
		return c.applyTransition(ctx, res.ID, domain.StatusError, res.Err.Error())
	}
}

func (c *Collector) applySuccess(ctx context.Context, res domain.JobResult) error {
	if err := c.guard(res.ID, domain.StatusProcessed); err != nil {
		return err
	}
	if err := c.ledger.SaveMetadata(ctx, res.ID, res.Meta, res.TargetFolders); err != nil {
		return fmt.Errorf("save metadata for %s: %w", res.ID, err)
	}
	c.counts[domain.StatusProcessed]++
	c.processed = append(c.processed, res.ID)
	for _, folder := range res.TargetFolders {
		if !c.seenDirs[folder] {
			c.seenDirs[folder] = true
			c.folders = append(c.folders, folder)
		}
	}
	if len(res.TargetFolders) == 0 {
		c.logger.Warn("no rule matched, left processed for manual triage", "id", res.ID, "title", res.Meta.Title)
	}
	c.publish(ctx, res.ID, domain.StatusProcessed)
	return nil
}

func (c *Collector) applyTransition(ctx context.Context, id domain.RemoteID, status domain.Status, lastError string) error {
	if err := c.guard(id, status); err != nil {
		return err
	}
	if err := c.ledger.UpdateStatus(ctx, id, status, lastError); err != nil {
		return fmt.Errorf("mark %s %s: %w", id, status, err)
	}
	c.counts[status]++
	c.publish(ctx, id, status)
	return nil
}

// ApplyUpload records the outcome the uploader reported for one id. Full
// success archives the id; any failure leaves it processed, retryable on the
// next run.
func (c *Collector) ApplyUpload(ctx context.Context, id domain.RemoteID, uploadErr error) error {
	if uploadErr != nil {
		c.logger.Warn("upload failed, id stays processed", "id", id, "error", uploadErr)
		return nil
	}
	if err := c.ledger.UpdateStatus(ctx, id, domain.StatusArchived, ""); err != nil {
		return fmt.Errorf("mark %s archived: %w", id, err)
	}
	c.counts[domain.StatusArchived]++
	c.publish(ctx, id, domain.StatusArchived)
	return nil
}

func (c *Collector) guard(id domain.RemoteID, next domain.Status) error {
	rec, ok := c.prior[id]
	if !ok {
		return fmt.Errorf("result for id outside the batch: %s", id)
	}
	if !rec.Status.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for %s", rec.Status, next, id)
	}
	return nil
}

func (c *Collector) publish(ctx context.Context, id domain.RemoteID, status domain.Status) {
	if c.events == nil {
		return
	}
	if err := c.events.PublishStatus(ctx, id, status); err != nil {
		c.logger.Warn("status event publish failed", "id", id, "status", status, "error", err)
	}
}

// Processed returns the ids this batch moved to processed, in apply order.
func (c *Collector) Processed() []domain.RemoteID { return c.processed }

// TouchedFolders returns the distinct target folders of newly processed ids.
func (c *Collector) TouchedFolders() []domain.RemotePath { return c.folders }

// Counts returns the per-status tally of transitions this collector applied.
func (c *Collector) Counts() map[domain.Status]int {
	out := make(map[domain.Status]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
