// Package document turns uploaded files into plain text for profile
// extraction.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxUploadBytes is the largest accepted upload.
const MaxUploadBytes = 5 << 20

var (
	// ErrUnsupported is returned for anything that is not a PDF.
	ErrUnsupported = errors.New("document: only PDF files are supported")
	// ErrTooLarge is returned for uploads over the size limit.
	ErrTooLarge = errors.New("document: file too large")
	// ErrEmpty is returned when no text could be extracted.
	ErrEmpty = errors.New("document: no extractable text")
)

// Extractor converts a named file into text.
type Extractor interface {
	Extract(ctx context.Context, name string, data []byte) (string, error)
}

// PDF extracts text from PDF documents.
type PDF struct {
	MaxBytes int64 // defaults to MaxUploadBytes
}

var _ Extractor = PDF{}

// Extract validates the upload and returns its plain text.
func (p PDF) Extract(ctx context.Context, name string, data []byte) (text string, err error) {
	max := p.MaxBytes
	if max <= 0 {
		max = MaxUploadBytes
	}
	if int64(len(data)) > max {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), max)
	}
	if !IsPDF(name, data) {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("document: malformed pdf %s: %v", name, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("document: open pdf %s: %w", name, err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("document: read pdf %s: %w", name, err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("document: read pdf %s: %w", name, err)
	}
	text = strings.TrimSpace(string(raw))
	if text == "" {
		return "", fmt.Errorf("%w: %s", ErrEmpty, name)
	}
	return text, nil
}

// IsPDF checks the extension and the %PDF magic number.
func IsPDF(name string, data []byte) bool {
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return false
	}
	return bytes.HasPrefix(data, []byte("%PDF"))
}
