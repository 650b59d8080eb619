// Package extract pulls plain text out of corpus files for indexing.
// Formats are dispatched on file extension; unsupported ones are
// reported up front so ingestion can skip them instead of failing.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	dqerrors "github.com/namjunsu/docquery/internal/errors"
)

// Extractor pulls the text content out of one file.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// ForPath returns the extractor for path's extension, or false when the
// format is not supported.
func ForPath(path string) (Extractor, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".text", ".md", ".markdown", ".rst", ".log":
		return PlainText{}, true
	case ".pdf":
		return PDF{}, true
	default:
		return nil, false
	}
}

// PlainText reads UTF-8 text files as-is.
type PlainText struct{}

// Extract reads the whole file and rejects content that is not valid
// UTF-8, so binaries with a text extension never reach the index.
func (PlainText) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read source file: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", dqerrors.New(dqerrors.ErrCodeExtractionFailed,
			fmt.Sprintf("file %s is not valid utf-8", filepath.Base(path)), nil)
	}
	return strings.TrimSpace(string(raw)), nil
}

// PDF extracts the text layer of PDF files.
type PDF struct{}

// Extract concatenates the document's text content. Scanned PDFs
// without a text layer come back empty rather than failing.
func (PDF) Extract(ctx context.Context, path string) (text string, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	// The parser panics on some malformed documents instead of
	// returning an error.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = dqerrors.New(dqerrors.ErrCodeExtractionFailed,
				fmt.Sprintf("pdf parser failed on %s: %v", filepath.Base(path), r), nil)
		}
	}()

	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", dqerrors.New(dqerrors.ErrCodeExtractionFailed,
			fmt.Sprintf("open pdf %s", filepath.Base(path)), err)
	}
	defer func() { _ = file.Close() }()

	content, err := reader.GetPlainText()
	if err != nil {
		return "", dqerrors.New(dqerrors.ErrCodeExtractionFailed,
			fmt.Sprintf("extract pdf text from %s", filepath.Base(path)), err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(content); err != nil {
		return "", dqerrors.New(dqerrors.ErrCodeExtractionFailed,
			fmt.Sprintf("read pdf text from %s", filepath.Base(path)), err)
	}
	return strings.TrimSpace(buf.String()), nil
}
