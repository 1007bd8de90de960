package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
	"github.com/kirillkom/sci-librarian/internal/core/ports"
)

// Indexer rebuilds the browsable listing document of one target folder from
// ledger contents. Rebuilding with an unchanged ledger produces byte
// identical output.
type Indexer struct {
	ledger ports.Ledger
	remote ports.RemoteStore
	logger *slog.Logger
}

func NewIndexer(ledger ports.Ledger, remote ports.RemoteStore, logger *slog.Logger) *Indexer {
	return &Indexer{ledger: ledger, remote: remote, logger: logger}
}

// Rebuild renders the folder's README.md from its archived records and
// overwrites it in the remote store. A folder with no archived records is
// left alone.
func (ix *Indexer) Rebuild(ctx context.Context, folder domain.RemotePath) error {
	records, err := ix.ledger.ListArchivedInFolder(ctx, folder)
	if err != nil {
		return fmt.Errorf("list archived in %s: %w", folder, err)
	}
	if len(records) == 0 {
		ix.logger.Info("nothing archived in folder, index untouched", "folder", folder)
		return nil
	}

	listing := RenderIndex(records)
	indexPath := folder + "/README.md"
	if err := ix.remote.Upload(ctx, indexPath, []byte(listing)); err != nil {
		return fmt.Errorf("upload index %s: %w", indexPath, err)
	}
	ix.logger.Info("index rebuilt", "folder", folder, "entries", len(records))
	return nil
}

// RenderIndex renders the listing table. Rows are ordered by title, then by
// id for a stable tiebreak, so identical ledger contents render identically.
func RenderIndex(records []domain.DocumentRecord) string {
	sorted := make([]domain.DocumentRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Title != sorted[j].Title {
			return sorted[i].Title < sorted[j].Title
		}
		return sorted[i].ID < sorted[j].ID
	})

	var b strings.Builder
	b.WriteString("| Title | Authors | Summary |\n")
	b.WriteString("| :--- | :--- | :--- |\n")
	for _, rec := range sorted {
		fmt.Fprintf(&b, "| [%s](%s) | %s | %s |\n",
			rec.Title, rec.Name, strings.Join(rec.Authors, ", "), rec.Summary)
	}
	return b.String()
}
