package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
)

// Storage keeps downloaded documents in a local working directory, one file
// per remote id. The id is sanitized because remote ids carry path characters.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./working"
	}
	rawDir := filepath.Join(basePath, "raw")
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return nil, fmt.Errorf("create working dir: %w", err)
	}
	return &Storage{basePath: basePath}, nil
}

func (s *Storage) Save(_ context.Context, id domain.RemoteID, data io.Reader) error {
	f, err := os.Create(s.path(id))
	if err != nil {
		return fmt.Errorf("create working file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		return fmt.Errorf("write working file: %w", err)
	}
	return nil
}

func (s *Storage) Open(_ context.Context, id domain.RemoteID) (io.ReadCloser, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("open working file: %w", err)
	}
	return f, nil
}

func (s *Storage) path(id domain.RemoteID) string {
	return filepath.Join(s.basePath, "raw", sanitize(string(id))+".pdf")
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', '/', '\\', ' ':
			return '_'
		default:
			return r
		}
	}, id)
}
