package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoExtractableText marks a document with no extractable text. It is
	// the skipped signal, not a processing fault.
	ErrNoExtractableText = errors.New("no extractable text")

	ErrRecordNotFound = errors.New("document record not found")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
