// Package extract turns uploaded files into plain text for analysis.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned for file types with no extractor.
var ErrUnsupported = errors.New("unsupported file type")

// Bytes extracts text from content according to the extension of filename.
// Files without an extension are treated as plain text.
func Bytes(filename string, content []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = extractPDF(content)
	case ".docx":
		text, err = extractDOCX(content)
	case ".xlsx":
		text, err = extractExcel(content)
	case ".txt", ".md", ".markdown", ".rst", ".text", "":
		text, err = extractPlain(content)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Supported reports whether filename has an extractor.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".docx", ".xlsx", ".txt", ".md", ".markdown", ".rst", ".text", "":
		return true
	}
	return false
}
