package errors

import "errors"

var (
	// ErrInvalidConfig marks chunker or store configurations that can never
	// terminate or produce usable output (e.g. overlap >= chunk size).
	ErrInvalidConfig = errors.New("invalid config")
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrCountMismatch is returned when a batch of vectors and its metadata
	// have different lengths.
	ErrCountMismatch = errors.New("vector and metadata count mismatch")
	// ErrCorruptStore is returned when persisted vectors and metadata
	// disagree and the pair cannot be trusted.
	ErrCorruptStore = errors.New("corrupt vector store")
	// ErrEmptyDocument is returned when a document yields no chunks.
	ErrEmptyDocument = errors.New("empty document")
	// ErrEmptyQuery is returned when a question is blank after trimming.
	ErrEmptyQuery = errors.New("empty query")
	// ErrUnsupportedFormat is returned for file types without an extractor.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrNotFound is returned for missing persisted artifacts.
	ErrNotFound = errors.New("not found")
)

func IsCorruptStore(err error) bool {
	return errors.Is(err, ErrCorruptStore)
}

func IsEmptyDocument(err error) bool {
	return errors.Is(err, ErrEmptyDocument)
}
