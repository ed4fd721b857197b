// Package engine wires the chunker, the embedder and the vector store into
// the document indexing and retrieval pipeline.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"askdoc/internal/ai"
	"askdoc/internal/chunker"
	"askdoc/internal/extract"
	"askdoc/internal/model"
	apperr "askdoc/internal/pkg/errors"
	"askdoc/internal/vectorstore"
)

// contextSeparator joins retrieved passages before they reach the generator.
const contextSeparator = "\n\n---\n\n"

const fallbackAnswer = "I could not answer that question with the indexed documents."

type Engine struct {
	chunker   *chunker.Chunker
	embedder  ai.IEmbedder
	generator ai.IGenerator
	store     vectorstore.Store
	topK      int
	threshold float64
}

type Options struct {
	Chunker   *chunker.Chunker
	Embedder  ai.IEmbedder
	Generator ai.IGenerator
	Store     vectorstore.Store
	TopK      int
	Threshold float64
}

func New(opts Options) (*Engine, error) {
	if opts.Chunker == nil {
		return nil, fmt.Errorf("engine needs a chunker")
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("engine needs an embedder")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("engine needs a vector store")
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &Engine{
		chunker:   opts.Chunker,
		embedder:  opts.Embedder,
		generator: opts.Generator,
		store:     opts.Store,
		topK:      opts.TopK,
		threshold: opts.Threshold,
	}, nil
}

// Ingest chunks the document, embeds all chunks in one batched call, adds
// them to the index and persists. A failure at any step aborts the document
// and reports the step; nothing is persisted until the add succeeded.
func (e *Engine) Ingest(ctx context.Context, filename string, filePath string, text string) (int, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("filename", filename))
	chunks := e.chunker.Chunk(text)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: %s", apperr.ErrEmptyDocument, filename)
	}
	logger.Info("ingesting document", zap.Int("chunks", len(chunks)))

	vectors, err := e.embedder.EmbedBatch(ctx, chunks, ai.TaskRetrievalDocument)
	if err != nil {
		return 0, fmt.Errorf("embed document chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("%w: %d embeddings for %d chunks", apperr.ErrCountMismatch, len(vectors), len(chunks))
	}

	metas := make([]model.ChunkMeta, len(chunks))
	for i, chunk := range chunks {
		metas[i] = model.ChunkMeta{
			Filename:    filename,
			ChunkIndex:  i,
			ChunkText:   chunk,
			FilePath:    filePath,
			TotalChunks: len(chunks),
		}
	}
	if err := e.store.Add(ctx, vectors, metas); err != nil {
		return 0, fmt.Errorf("add chunks to index: %w", err)
	}
	if err := e.store.Save(ctx); err != nil {
		return 0, fmt.Errorf("persist index: %w", err)
	}
	logger.Info("document ingested", zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// IngestFile extracts the file's text and ingests it under its base name.
func (e *Engine) IngestFile(ctx context.Context, path string) (int, error) {
	text, err := extract.Text(path)
	if err != nil {
		return 0, err
	}
	return e.Ingest(ctx, filepath.Base(path), path, text)
}

// Retrieve embeds the query and returns the nearest chunks. The similarity
// threshold is soft: when it would filter out every result, the unfiltered
// top-k is returned instead, trading precision for a best-available answer.
func (e *Engine) Retrieve(ctx context.Context, query string) ([]model.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.ErrEmptyQuery
	}
	vec, err := e.embedder.Embed(ctx, query, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := e.store.Search(ctx, vec, e.topK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	filtered := make([]model.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score >= e.threshold {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 && len(results) > 0 {
		logutil.GetLogger(ctx).Debug("threshold filtered all results, falling back to unfiltered top-k",
			zap.Float64("threshold", e.threshold), zap.Int("results", len(results)))
		return results, nil
	}
	return filtered, nil
}

// Ask retrieves context for the question and asks the generator. Embedding,
// search and generation failures degrade to a fallback answer instead of
// erroring; a blank question is still an error.
func (e *Engine) Ask(ctx context.Context, question string) (string, []model.SearchResult, error) {
	if strings.TrimSpace(question) == "" {
		return "", nil, apperr.ErrEmptyQuery
	}
	if e.generator == nil {
		return "", nil, fmt.Errorf("no generator configured")
	}
	results, err := e.Retrieve(ctx, question)
	if err != nil {
		logutil.GetLogger(ctx).Warn("retrieval failed, degrading", zap.Error(err))
		return fallbackAnswer, nil, nil
	}
	if len(results) == 0 {
		return fallbackAnswer, nil, nil
	}
	passages := make([]string, 0, len(results))
	for _, r := range results {
		passages = append(passages, r.Meta.ChunkText)
	}
	prompt := fmt.Sprintf(
		"Answer the question using only the context below. If the context is insufficient, say so.\n\nContext:\n%s\n\nQuestion: %s",
		strings.Join(passages, contextSeparator), question)
	answer, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		logutil.GetLogger(ctx).Warn("generation failed, degrading", zap.Error(err))
		return fallbackAnswer, results, nil
	}
	return answer, results, nil
}

// AggregateByDocument groups all stored chunk metadata by source filename,
// chunks ordered by their index within each document. An empty index yields
// an empty map.
func (e *Engine) AggregateByDocument(ctx context.Context) (map[string][]model.ChunkMeta, error) {
	metas, err := e.store.AllMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("read index metadata: %w", err)
	}
	grouped := make(map[string][]model.ChunkMeta, len(metas))
	for _, m := range metas {
		grouped[m.Filename] = append(grouped[m.Filename], m)
	}
	for name := range grouped {
		chunks := grouped[name]
		sort.SliceStable(chunks, func(i, j int) bool {
			return chunks[i].ChunkIndex < chunks[j].ChunkIndex
		})
	}
	return grouped, nil
}

// Summary styles accepted by SummarizeAll.
const (
	SummaryComprehensive = "comprehensive"
	SummaryBrief         = "brief"
	SummaryDetailed      = "detailed"
)

var summaryInstructions = map[string]string{
	SummaryComprehensive: "Write a comprehensive summary covering the main points of every document.",
	SummaryBrief:         "Write a brief summary of at most five sentences covering all documents.",
	SummaryDetailed:      "Write a detailed summary per document, keeping document boundaries visible.",
}

// SummarizeAll feeds every indexed document to the generator and returns a
// cross-document summary in the requested style.
func (e *Engine) SummarizeAll(ctx context.Context, style string) (string, error) {
	if e.generator == nil {
		return "", fmt.Errorf("no generator configured")
	}
	instruction, ok := summaryInstructions[style]
	if !ok {
		return "", fmt.Errorf("%w: unknown summary style %q", apperr.ErrInvalidConfig, style)
	}
	grouped, err := e.AggregateByDocument(ctx)
	if err != nil {
		return "", err
	}
	if len(grouped) == 0 {
		return "", fmt.Errorf("%w: index holds no documents", apperr.ErrNotFound)
	}
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	blocks := make([]string, 0, len(names))
	for _, name := range names {
		texts := make([]string, 0, len(grouped[name]))
		for _, m := range grouped[name] {
			texts = append(texts, m.ChunkText)
		}
		blocks = append(blocks, fmt.Sprintf("Document: %s\n%s", name, strings.Join(texts, "\n")))
	}
	prompt := fmt.Sprintf("%s\n\n%s", instruction, strings.Join(blocks, contextSeparator))
	summary, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}
	return summary, nil
}

// Stats reports index size, dimension and distinct document count.
func (e *Engine) Stats(ctx context.Context) (model.IndexStats, error) {
	size, err := e.store.Size(ctx)
	if err != nil {
		return model.IndexStats{}, err
	}
	dim, err := e.store.Dimension(ctx)
	if err != nil {
		return model.IndexStats{}, err
	}
	metas, err := e.store.AllMetadata(ctx)
	if err != nil {
		return model.IndexStats{}, err
	}
	seen := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		seen[m.Filename] = struct{}{}
	}
	return model.IndexStats{
		TotalVectors: size,
		Dimension:    dim,
		Documents:    len(seen),
	}, nil
}

// Clear drops every indexed chunk and persists the empty state.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	logutil.GetLogger(ctx).Info("index cleared")
	return nil
}

// Load restores the persisted index state.
func (e *Engine) Load(ctx context.Context) error {
	return e.store.Load(ctx)
}
