package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
	"github.com/kirillkom/sci-librarian/internal/core/ports"
)

// Uploader pushes an archived artifact pair (original document + markdown
// sidecar) into every target folder of a processed document. It performs
// remote I/O only; status transitions are requested from the collector by
// whoever drives the upload.
type Uploader struct {
	remote ports.RemoteStore
	work   ports.WorkStore
	logger *slog.Logger
}

func NewUploader(remote ports.RemoteStore, work ports.WorkStore, logger *slog.Logger) *Uploader {
	return &Uploader{remote: remote, work: work, logger: logger}
}

// UploadOne uploads rec into each of its target folders. It succeeds only
// when every folder received both the document and its sidecar; the first
// failing path aborts and is reported so the id stays processed.
func (u *Uploader) UploadOne(ctx context.Context, rec domain.DocumentRecord) error {
	if len(rec.TargetFolders) == 0 {
		return fmt.Errorf("document %s has no target folders", rec.ID)
	}

	reader, err := u.work.Open(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("open local copy: %w", err)
	}
	content, err := io.ReadAll(reader)
	_ = reader.Close()
	if err != nil {
		return fmt.Errorf("read local copy: %w", err)
	}

	sidecar := []byte(RenderSidecar(rec))
	for _, folder := range rec.TargetFolders {
		docPath := domain.RemotePath(path.Join(string(folder), rec.Name))
		if err := u.remote.Upload(ctx, docPath, content); err != nil {
			return fmt.Errorf("upload %s: %w", docPath, err)
		}
		if err := u.remote.Upload(ctx, docPath+".md", sidecar); err != nil {
			return fmt.Errorf("upload sidecar %s.md: %w", docPath, err)
		}
		u.logger.Info("archived", "id", rec.ID, "path", docPath)
	}
	return nil
}

// RenderSidecar builds the markdown companion stored next to an archived
// document.
func RenderSidecar(rec domain.DocumentRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", rec.Title)
	fmt.Fprintf(&b, "Authors: %s\n\n", strings.Join(rec.Authors, ", "))
	fmt.Fprintf(&b, "Summary: %s\n\n", rec.Summary)
	fmt.Fprintf(&b, "Abstract: %s\n", rec.Abstract)
	return b.String()
}

// UploadProcessed drives a standalone upload pass: every processed id with
// target folders is uploaded and, on full success, archived through the
// collector. Ids with no target folders are left processed for manual triage.
func UploadProcessed(ctx context.Context, ledger ports.Ledger, uploader *Uploader, events ports.EventPublisher, observer Observer, logger *slog.Logger) (map[domain.Status]int, []domain.RemotePath, error) {
	records, err := ledger.ListByStatus(ctx, 0, domain.StatusProcessed)
	if err != nil {
		return nil, nil, fmt.Errorf("list processed: %w", err)
	}

	collector := NewCollector(ledger, events, records, logger)
	var touched []domain.RemotePath
	seen := make(map[domain.RemotePath]bool)
	for _, rec := range records {
		if len(rec.TargetFolders) == 0 {
			logger.Warn("no target folders, left processed for manual triage", "id", rec.ID, "title", rec.Title)
			continue
		}
		uploadErr := uploader.UploadOne(ctx, rec)
		if observer != nil {
			observer.RecordUpload(uploadErr)
		}
		if err := collector.ApplyUpload(ctx, rec.ID, uploadErr); err != nil {
			return collector.Counts(), touched, err
		}
		if uploadErr == nil {
			for _, folder := range rec.TargetFolders {
				if !seen[folder] {
					seen[folder] = true
					touched = append(touched, folder)
				}
			}
		}
	}
	return collector.Counts(), touched, nil
}
