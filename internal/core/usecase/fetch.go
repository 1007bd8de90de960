package usecase

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
	"github.com/kirillkom/sci-librarian/internal/core/ports"
)

// Fetcher materializes pending documents into local working storage,
// one at a time. A failed download parks that id in error and the batch
// continues; a partially fetched batch retries only ids still pending.
type Fetcher struct {
	ledger ports.Ledger
	remote ports.RemoteStore
	work   ports.WorkStore
	logger *slog.Logger
}

type FetchSummary struct {
	Downloaded int
	Failed     int
}

func NewFetcher(ledger ports.Ledger, remote ports.RemoteStore, work ports.WorkStore, logger *slog.Logger) *Fetcher {
	return &Fetcher{ledger: ledger, remote: remote, work: work, logger: logger}
}

// FetchBatch downloads up to batchSize pending documents, newest first.
func (f *Fetcher) FetchBatch(ctx context.Context, batchSize int) (FetchSummary, error) {
	records, err := f.ledger.ListByStatus(ctx, batchSize, domain.StatusPending)
	if err != nil {
		return FetchSummary{}, fmt.Errorf("list pending: %w", err)
	}

	var summary FetchSummary
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			// Interrupted: remaining ids stay pending for the next run.
			return summary, err
		}
		if err := f.fetchOne(ctx, rec); err != nil {
			summary.Failed++
			f.logger.Warn("download failed", "id", rec.ID, "name", rec.Name, "error", err)
			if uerr := f.ledger.UpdateStatus(ctx, rec.ID, domain.StatusError, err.Error()); uerr != nil {
				return summary, fmt.Errorf("mark %s error: %w", rec.ID, uerr)
			}
			continue
		}
		summary.Downloaded++
		if err := f.ledger.UpdateStatus(ctx, rec.ID, domain.StatusDownloaded, ""); err != nil {
			return summary, fmt.Errorf("mark %s downloaded: %w", rec.ID, err)
		}
		f.logger.Info("downloaded", "id", rec.ID, "name", rec.Name)
	}
	return summary, nil
}

// FetchOne downloads a single document by id regardless of batch order,
// provided it is still pending (or parked in error, for explicit retries).
func (f *Fetcher) FetchOne(ctx context.Context, id domain.RemoteID) error {
	rec, err := f.ledger.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != domain.StatusPending && rec.Status != domain.StatusError {
		return fmt.Errorf("document %s is %s, not pending", id, rec.Status)
	}
	if err := f.fetchOne(ctx, *rec); err != nil {
		if uerr := f.ledger.UpdateStatus(ctx, rec.ID, domain.StatusError, err.Error()); uerr != nil {
			return fmt.Errorf("mark %s error: %w", rec.ID, uerr)
		}
		return err
	}
	return f.ledger.UpdateStatus(ctx, rec.ID, domain.StatusDownloaded, "")
}

func (f *Fetcher) fetchOne(ctx context.Context, rec domain.DocumentRecord) error {
	content, err := f.remote.Download(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if err := f.work.Save(ctx, rec.ID, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("save local copy: %w", err)
	}
	return nil
}
