package flat

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"askdoc/internal/config"
	"askdoc/internal/filestore"
	"askdoc/internal/model"
	apperr "askdoc/internal/pkg/errors"
)

func newTestIndex(t *testing.T, dir string) *Index {
	t.Helper()
	files, err := filestore.New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": dir},
	})
	require.NoError(t, err)
	idx, err := New(files, Config{})
	require.NoError(t, err)
	return idx
}

func meta(filename string, i, total int, text string) model.ChunkMeta {
	return model.ChunkMeta{
		Filename:    filename,
		ChunkIndex:  i,
		ChunkText:   text,
		FilePath:    "/docs/" + filename,
		TotalChunks: total,
	}
}

func TestAddValidation(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, t.TempDir())

	err := idx.Add(ctx, [][]float32{{1, 0}, {0, 1}}, []model.ChunkMeta{meta("a.txt", 0, 1, "a")})
	require.ErrorIs(t, err, apperr.ErrCountMismatch)

	require.NoError(t, idx.Add(ctx, [][]float32{{1, 0}}, []model.ChunkMeta{meta("a.txt", 0, 1, "a")}))

	err = idx.Add(ctx, [][]float32{{1, 0, 0}}, []model.ChunkMeta{meta("b.txt", 0, 1, "b")})
	require.ErrorIs(t, err, apperr.ErrDimensionMismatch)

	size, err := idx.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, size)
}

func TestSearchOrderingAndScores(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, t.TempDir())

	vectors := [][]float32{
		{0, 1},  // orthogonal to the query
		{1, 0},  // identical direction
		{1, 1},  // in between
		{2, 0},  // identical direction after normalization, tie with index 1
	}
	metas := []model.ChunkMeta{
		meta("doc.txt", 0, 4, "orthogonal"),
		meta("doc.txt", 1, 4, "exact"),
		meta("doc.txt", 2, 4, "diagonal"),
		meta("doc.txt", 3, 4, "exact scaled"),
	}
	require.NoError(t, idx.Add(ctx, vectors, metas))

	results, err := idx.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 4)

	require.Equal(t, "exact", results[0].Meta.ChunkText)
	require.Equal(t, "exact scaled", results[1].Meta.ChunkText) // tie broken by insertion order
	require.Equal(t, "diagonal", results[2].Meta.ChunkText)
	require.Equal(t, "orthogonal", results[3].Meta.ChunkText)

	require.InDelta(t, 1.0, results[0].Score, 1e-9)
	for i := 1; i < len(results); i++ {
		require.LessOrEqual(t, results[i].Score, results[i-1].Score)
		require.Greater(t, results[i].Score, 0.0)
		require.LessOrEqual(t, results[i].Score, 1.0)
	}
}

func TestSearchEmptyAndClamped(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, t.TempDir())

	results, err := idx.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Empty(t, results)

	require.NoError(t, idx.Add(ctx,
		[][]float32{{1, 0}, {0, 1}},
		[]model.ChunkMeta{meta("a.txt", 0, 2, "x"), meta("a.txt", 1, 2, "y")},
	))

	results, err = idx.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	results, err = idx.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	_, err = idx.Search(ctx, []float32{1, 0, 0}, 1)
	require.ErrorIs(t, err, apperr.ErrDimensionMismatch)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := newTestIndex(t, dir)

	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	metas := []model.ChunkMeta{
		meta("report.pdf", 0, 3, "first"),
		meta("report.pdf", 1, 3, "second"),
		meta("report.pdf", 2, 3, "third"),
	}
	require.NoError(t, idx.Add(ctx, vectors, metas))
	require.NoError(t, idx.Save(ctx))

	// A fresh instance with a different configured dimension must take the
	// dimension from the persisted data.
	files, err := filestore.New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": dir},
	})
	require.NoError(t, err)
	reloaded, err := New(files, Config{Dimension: 99})
	require.NoError(t, err)
	require.NoError(t, reloaded.Load(ctx))

	size, err := reloaded.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, size)

	dim, err := reloaded.Dimension(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, dim)

	got, err := reloaded.AllMetadata(ctx)
	require.NoError(t, err)
	require.Equal(t, metas, got)

	results, err := reloaded.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "second", results[0].Meta.ChunkText)
}

func TestLoadMissingPairIsFresh(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, t.TempDir())
	require.NoError(t, idx.Load(ctx))
	size, err := idx.Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestLoadDetectsCorruptPair(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := newTestIndex(t, dir)

	require.NoError(t, idx.Add(ctx,
		[][]float32{{1, 0}, {0, 1}},
		[]model.ChunkMeta{meta("a.txt", 0, 2, "x"), meta("a.txt", 1, 2, "y")},
	))
	require.NoError(t, idx.Save(ctx))

	// Metadata claims fewer records than the vector artifact holds.
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, defaultMetadataKey),
		[]byte(`[{"filename":"a.txt","chunk_index":0,"chunk_text":"x","file_path":"/docs/a.txt","total_chunks":2}]`),
		0o644,
	))
	reloaded := newTestIndex(t, dir)
	require.ErrorIs(t, reloaded.Load(ctx), apperr.ErrCorruptStore)

	// Half of the pair missing is corrupt, not fresh.
	require.NoError(t, os.Remove(filepath.Join(dir, defaultMetadataKey)))
	reloaded = newTestIndex(t, dir)
	require.ErrorIs(t, reloaded.Load(ctx), apperr.ErrCorruptStore)
}

func TestLoadRejectsLyingHeader(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	writeArtifacts := func(header vectorHeader) {
		buf := new(bytes.Buffer)
		require.NoError(t, binary.Write(buf, binary.LittleEndian, header))
		require.NoError(t, os.WriteFile(filepath.Join(dir, defaultIndexKey), buf.Bytes(), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, defaultMetadataKey), []byte(`[]`), 0o644))
	}

	// A header declaring an absurd record count with no data behind it must
	// fail as corrupt, not allocate count-sized memory.
	writeArtifacts(vectorHeader{Dimension: 8, Count: 1 << 40})
	idx := newTestIndex(t, dir)
	require.ErrorIs(t, idx.Load(ctx), apperr.ErrCorruptStore)

	// Same for a dimension no embedding model could produce.
	writeArtifacts(vectorHeader{Dimension: 1 << 40, Count: 1})
	idx = newTestIndex(t, dir)
	require.ErrorIs(t, idx.Load(ctx), apperr.ErrCorruptStore)
}

func TestClearPersistsEmptyState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := newTestIndex(t, dir)

	require.NoError(t, idx.Add(ctx,
		[][]float32{{1, 0}},
		[]model.ChunkMeta{meta("a.txt", 0, 1, "x")},
	))
	require.NoError(t, idx.Save(ctx))
	require.NoError(t, idx.Clear(ctx))

	size, err := idx.Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size)

	// The empty state must be on disk already: a reload sees no records.
	reloaded := newTestIndex(t, dir)
	require.NoError(t, reloaded.Load(ctx))
	size, err = reloaded.Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size)

	// The dimension survives a clear.
	dim, err := idx.Dimension(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, dim)
}
