// Package extract turns files on disk into plain text for indexing.
// Extractors are registered per file extension.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"

	apperr "askdoc/internal/pkg/errors"
)

type Extractor func(path string) (string, error)

var extractors = map[string]Extractor{}

func register(ext string, fn Extractor) {
	extractors[strings.ToLower(ext)] = fn
}

// Supported reports whether files with the given path's extension can be
// extracted.
func Supported(path string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Text extracts the plain text of the file at path. Unknown extensions
// return ErrUnsupportedFormat.
func Text(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	fn, ok := extractors[ext]
	if !ok {
		return "", fmt.Errorf("%w: %s", apperr.ErrUnsupportedFormat, ext)
	}
	text, err := fn(path)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", path, err)
	}
	return text, nil
}
