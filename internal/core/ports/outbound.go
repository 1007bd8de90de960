package ports

import (
	"context"
	"io"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
)

// Ledger is the durable record store for per-document processing state.
// During any stage exactly one component holds the writing side.
type Ledger interface {
	// Upsert creates the record for a newly sighted id or, when the
	// fingerprint differs from the stored one, resets it to pending.
	// It reports whether the row was created or changed; an unchanged
	// id is left untouched.
	Upsert(ctx context.Context, entry domain.RemoteEntry) (bool, error)
	// ListByStatus returns records in any of the given statuses, newest
	// first. limit <= 0 means no limit.
	ListByStatus(ctx context.Context, limit int, statuses ...domain.Status) ([]domain.DocumentRecord, error)
	GetByID(ctx context.Context, id domain.RemoteID) (*domain.DocumentRecord, error)
	// UpdateStatus transitions one id, recording lastError ("" clears it).
	UpdateStatus(ctx context.Context, id domain.RemoteID, status domain.Status, lastError string) error
	// SaveMetadata stores classification output and moves the id to
	// processed, clearing last_error.
	SaveMetadata(ctx context.Context, id domain.RemoteID, meta domain.ArticleMetadata, targetFolders []domain.RemotePath) error
	// ListArchivedInFolder returns archived records whose target folders
	// include folder, ordered by title for deterministic indexing.
	ListArchivedInFolder(ctx context.Context, folder domain.RemotePath) ([]domain.DocumentRecord, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
}

// RemoteStore is the remote file storage the inbox and archive live on.
type RemoteStore interface {
	// ListFolder returns the complete listing of folder; pagination is
	// handled internally and losslessly.
	ListFolder(ctx context.Context, folder string) ([]domain.RemoteEntry, error)
	Download(ctx context.Context, id domain.RemoteID) ([]byte, error)
	Upload(ctx context.Context, path domain.RemotePath, content []byte) error
}

// TextExtractor turns document bytes into plain text.
// A document without extractable text yields domain.ErrNoExtractableText.
type TextExtractor interface {
	Extract(ctx context.Context, content []byte) (string, error)
}

// Classifier extracts metadata from text and matches it against the rule set.
type Classifier interface {
	Classify(ctx context.Context, text string, rules domain.RuleSet) (domain.ArticleMetadata, []domain.Rule, error)
}

// WorkStore is the local working storage for downloaded documents. Each key
// is owned by exactly one id at a time.
type WorkStore interface {
	Save(ctx context.Context, id domain.RemoteID, data io.Reader) error
	Open(ctx context.Context, id domain.RemoteID) (io.ReadCloser, error)
}

// EventPublisher emits document status transitions for external observers.
// Publishing is best-effort and never affects pipeline correctness.
type EventPublisher interface {
	PublishStatus(ctx context.Context, id domain.RemoteID, status domain.Status) error
}
