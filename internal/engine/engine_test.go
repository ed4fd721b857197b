package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"askdoc/internal/chunker"
	"askdoc/internal/config"
	"askdoc/internal/filestore"
	"askdoc/internal/model"
	apperr "askdoc/internal/pkg/errors"
	"askdoc/internal/vectorstore/flat"
)

// fakeEmbedder maps known texts to fixed vectors so tests control geometry.
type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
	batches int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string, _ string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedder down")
	}
	f.batches++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, ok := f.vectors[text]
		if !ok {
			v = []float32{1, 1, 1}
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake" }

type fakeGenerator struct {
	fail   bool
	prompt string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	if f.fail {
		return "", fmt.Errorf("generator down")
	}
	f.prompt = prompt
	return "generated answer", nil
}

func newTestEngine(t *testing.T, emb *fakeEmbedder, gen *fakeGenerator, threshold float64) *Engine {
	t.Helper()
	files, err := filestore.New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": t.TempDir()},
	})
	require.NoError(t, err)
	store, err := flat.New(files, flat.Config{})
	require.NoError(t, err)
	ck, err := chunker.New(512, 50)
	require.NoError(t, err)
	opts := Options{
		Chunker:   ck,
		Embedder:  emb,
		Store:     store,
		TopK:      3,
		Threshold: threshold,
	}
	if gen != nil {
		opts.Generator = gen
	}
	eng, err := New(opts)
	require.NoError(t, err)
	return eng
}

func TestIngestAndRetrieve(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"alpha doc.": {1, 0, 0},
		"beta doc.":  {0, 1, 0},
		"gamma doc.": {0, 0, 1},
		"find alpha": {1, 0, 0},
	}}
	eng := newTestEngine(t, emb, nil, 0.7)

	for _, text := range []string{"alpha doc.", "beta doc.", "gamma doc."} {
		n, err := eng.Ingest(ctx, text, "/docs/"+text, text)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}
	// One batched embedding call per document.
	require.Equal(t, 3, emb.batches)

	results, err := eng.Retrieve(ctx, "find alpha")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "alpha doc.", results[0].Meta.ChunkText)
	require.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestRetrieveThresholdFallback(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"a.": {1, 0, 0},
		"b.": {0, 1, 0},
		"c.": {0, 0, 1},
	}}
	eng := newTestEngine(t, emb, nil, 0.7)
	for _, text := range []string{"a.", "b.", "c."} {
		_, err := eng.Ingest(ctx, text, "/docs/"+text, text)
		require.NoError(t, err)
	}

	// The query is equidistant from all three vectors and every score falls
	// below the threshold; the filter must yield all three, not zero.
	results, err := eng.Retrieve(ctx, "unrelated query")
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		require.Less(t, r.Score, 0.7)
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	eng := newTestEngine(t, &fakeEmbedder{}, nil, 0.7)
	_, err := eng.Retrieve(context.Background(), "   ")
	require.ErrorIs(t, err, apperr.ErrEmptyQuery)
}

func TestIngestEmptyDocument(t *testing.T) {
	eng := newTestEngine(t, &fakeEmbedder{}, nil, 0.7)
	_, err := eng.Ingest(context.Background(), "empty.txt", "/docs/empty.txt", "   \n ")
	require.ErrorIs(t, err, apperr.ErrEmptyDocument)
}

func TestIngestEmbedFailureLeavesIndexUntouched(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{fail: true}
	eng := newTestEngine(t, emb, nil, 0.7)
	_, err := eng.Ingest(ctx, "doc.txt", "/docs/doc.txt", "some content.")
	require.Error(t, err)

	stats, err := eng.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.TotalVectors)
}

func TestAggregateByDocument(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float32{}}
	eng := newTestEngine(t, emb, nil, 0.7)

	grouped, err := eng.AggregateByDocument(ctx)
	require.NoError(t, err)
	require.Empty(t, grouped)

	// Two documents ingested via the store directly so chunk counts differ.
	addDoc := func(name string, chunks int) {
		vectors := make([][]float32, chunks)
		metas := make([]model.ChunkMeta, chunks)
		for i := 0; i < chunks; i++ {
			vectors[i] = []float32{1, 0, 0}
			metas[i] = model.ChunkMeta{
				Filename:    name,
				ChunkIndex:  i,
				ChunkText:   fmt.Sprintf("%s chunk %d", name, i),
				FilePath:    "/docs/" + name,
				TotalChunks: chunks,
			}
		}
		require.NoError(t, eng.store.Add(ctx, vectors, metas))
	}
	addDoc("report.pdf", 3)
	addDoc("notes.txt", 2)

	grouped, err = eng.AggregateByDocument(ctx)
	require.NoError(t, err)
	require.Len(t, grouped, 2)
	require.Len(t, grouped["report.pdf"], 3)
	require.Len(t, grouped["notes.txt"], 2)
	for _, chunks := range grouped {
		for i, m := range chunks {
			require.Equal(t, i, m.ChunkIndex)
		}
	}

	stats, err := eng.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, stats.TotalVectors)
	require.Equal(t, 3, stats.Dimension)
	require.Equal(t, 2, stats.Documents)
}

func TestAskDegradesOnEmbedderFailure(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{}
	eng := newTestEngine(t, &fakeEmbedder{fail: true}, gen, 0.7)

	answer, results, err := eng.Ask(ctx, "what now?")
	require.NoError(t, err)
	require.Empty(t, results)
	require.Equal(t, fallbackAnswer, answer)
}

func TestAskGeneratesFromRetrievedContext(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"alpha doc.": {1, 0, 0},
		"question":   {1, 0, 0},
	}}
	gen := &fakeGenerator{}
	eng := newTestEngine(t, emb, gen, 0.7)
	_, err := eng.Ingest(ctx, "alpha.txt", "/docs/alpha.txt", "alpha doc.")
	require.NoError(t, err)

	answer, results, err := eng.Ask(ctx, "question")
	require.NoError(t, err)
	require.Equal(t, "generated answer", answer)
	require.Len(t, results, 1)
	require.Contains(t, gen.prompt, "alpha doc.")
	require.Contains(t, gen.prompt, "question")

	_, _, err = eng.Ask(ctx, " ")
	require.ErrorIs(t, err, apperr.ErrEmptyQuery)
}

func TestAskDegradesOnGeneratorFailure(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"alpha doc.": {1, 0, 0},
		"question":   {1, 0, 0},
	}}
	gen := &fakeGenerator{fail: true}
	eng := newTestEngine(t, emb, gen, 0.7)
	_, err := eng.Ingest(ctx, "alpha.txt", "/docs/alpha.txt", "alpha doc.")
	require.NoError(t, err)

	answer, results, err := eng.Ask(ctx, "question")
	require.NoError(t, err)
	require.Equal(t, fallbackAnswer, answer)
	require.Len(t, results, 1)
}

func TestSummarizeAll(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float32{}}
	gen := &fakeGenerator{}
	eng := newTestEngine(t, emb, gen, 0.7)

	_, err := eng.SummarizeAll(ctx, "comprehensive")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = eng.Ingest(ctx, "alpha.txt", "/docs/alpha.txt", "alpha doc.")
	require.NoError(t, err)

	_, err = eng.SummarizeAll(ctx, "casual")
	require.ErrorIs(t, err, apperr.ErrInvalidConfig)

	summary, err := eng.SummarizeAll(ctx, "brief")
	require.NoError(t, err)
	require.Equal(t, "generated answer", summary)
	require.Contains(t, gen.prompt, "Document: alpha.txt")
}
