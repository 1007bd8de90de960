package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
)

const defaultMaxPages = 5

// Extractor pulls plain text from the first pages of a PDF. Title, authors
// and abstract live up front, so a few pages are enough for classification.
type Extractor struct {
	maxPages int
	logger   *slog.Logger
}

func NewExtractor(maxPages int, logger *slog.Logger) *Extractor {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{maxPages: maxPages, logger: logger}
}

func (e *Extractor) Extract(ctx context.Context, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pages := reader.NumPage()
	if pages > e.maxPages {
		pages = e.maxPages
	}

	var builder strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Broken pages happen in scanned PDFs; take what the rest gives.
			e.logger.Debug("skipping unreadable pdf page", "page", i, "error", err)
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}

	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", domain.ErrNoExtractableText
	}
	return text, nil
}
