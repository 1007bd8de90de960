package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/sci-librarian/internal/core/ports"
)

// Scanner diffs the remote inbox listing against the ledger and enqueues
// new or changed documents as pending.
type Scanner struct {
	ledger ports.Ledger
	remote ports.RemoteStore
	inbox  string
	logger *slog.Logger
}

type ScanSummary struct {
	Listed  int
	Changed int
}

func NewScanner(ledger ports.Ledger, remote ports.RemoteStore, inbox string, logger *slog.Logger) *Scanner {
	return &Scanner{ledger: ledger, remote: remote, inbox: inbox, logger: logger}
}

// Sync lists the inbox and upserts every new or changed id at pending.
// Re-running against an unchanged remote mutates nothing.
func (s *Scanner) Sync(ctx context.Context) (ScanSummary, error) {
	entries, err := s.remote.ListFolder(ctx, s.inbox)
	if err != nil {
		return ScanSummary{}, fmt.Errorf("list inbox %s: %w", s.inbox, err)
	}

	summary := ScanSummary{Listed: len(entries)}
	for _, entry := range entries {
		changed, err := s.ledger.Upsert(ctx, entry)
		if err != nil {
			return summary, fmt.Errorf("upsert %s: %w", entry.ID, err)
		}
		if changed {
			summary.Changed++
			s.logger.Info("enqueued document",
				"id", entry.ID, "name", entry.Name, "fingerprint", entry.Fingerprint)
		}
	}

	s.logger.Info("sync complete", "listed", summary.Listed, "changed", summary.Changed)
	return summary, nil
}
