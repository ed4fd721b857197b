package flat

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"askdoc/internal/filestore"
	"askdoc/internal/model"
	apperr "askdoc/internal/pkg/errors"
	"askdoc/internal/vectorstore"
)

const (
	defaultIndexKey    = "index.bin"
	defaultMetadataKey = "metadata.json"
)

type Config struct {
	// Dimension of a fresh index. 0 means adopt the first added batch's
	// dimension. A loaded index always takes its dimension from the
	// persisted vectors.
	Dimension   int    `json:"dimension"`
	IndexKey    string `json:"index_key"`
	MetadataKey string `json:"metadata_key"`
}

// record keeps one vector and its metadata in a single value so the two can
// never be reordered independently.
type record struct {
	vector []float32
	meta   model.ChunkMeta
}

// Index is a flat (brute force) similarity index. Vectors are stored
// L2-normalized, so squared Euclidean distance is monotonic with cosine
// distance. Search holds a read lock; Add/Clear/Load/Save are exclusive.
type Index struct {
	mu       sync.RWMutex
	files    filestore.Store
	indexKey string
	metaKey  string
	dim      int
	records  []record
}

func init() {
	vectorstore.Register("flat", func(files filestore.Store, args interface{}) (vectorstore.Store, error) {
		cfg := Config{}
		if err := vectorstore.DecodeConfig(args, &cfg); err != nil {
			return nil, err
		}
		return New(files, cfg)
	})
}

func New(files filestore.Store, cfg Config) (*Index, error) {
	if files == nil {
		return nil, fmt.Errorf("flat index requires an artifact store")
	}
	if cfg.Dimension < 0 {
		return nil, fmt.Errorf("%w: dimension %d", apperr.ErrInvalidConfig, cfg.Dimension)
	}
	if cfg.IndexKey == "" {
		cfg.IndexKey = defaultIndexKey
	}
	if cfg.MetadataKey == "" {
		cfg.MetadataKey = defaultMetadataKey
	}
	return &Index{
		files:    files,
		indexKey: cfg.IndexKey,
		metaKey:  cfg.MetadataKey,
		dim:      cfg.Dimension,
	}, nil
}

func (x *Index) Add(ctx context.Context, vectors [][]float32, metas []model.ChunkMeta) error {
	_ = ctx
	if len(vectors) != len(metas) {
		return fmt.Errorf("%w: %d vectors, %d metadata records", apperr.ErrCountMismatch, len(vectors), len(metas))
	}
	if len(vectors) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	dim := x.dim
	if dim == 0 {
		dim = len(vectors[0])
		if dim == 0 {
			return fmt.Errorf("%w: zero-length vector", apperr.ErrDimensionMismatch)
		}
	}
	// Validate the whole batch before touching any state.
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: expected %d, got %d at position %d", apperr.ErrDimensionMismatch, dim, len(v), i)
		}
	}
	x.dim = dim
	for i, v := range vectors {
		x.records = append(x.records, record{vector: normalized(v), meta: metas[i]})
	}
	return nil
}

func (x *Index) Search(ctx context.Context, query []float32, topK int) ([]model.SearchResult, error) {
	_ = ctx
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.records) == 0 || topK <= 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: expected %d, got %d", apperr.ErrDimensionMismatch, x.dim, len(query))
	}
	q := normalized(query)

	type scored struct {
		idx  int
		dist float64
	}
	all := make([]scored, len(x.records))
	for i := range x.records {
		all[i] = scored{idx: i, dist: sqDistance(q, x.records[i].vector)}
	}
	// Stable sort keeps insertion order on distance ties.
	sort.SliceStable(all, func(i, j int) bool { return all[i].dist < all[j].dist })

	if topK > len(all) {
		topK = len(all)
	}
	results := make([]model.SearchResult, 0, topK)
	for _, s := range all[:topK] {
		results = append(results, model.SearchResult{
			Meta:  x.records[s.idx].meta,
			Score: 1 / (1 + s.dist),
		})
	}
	return results, nil
}

func (x *Index) Clear(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.records = nil
	// Persist immediately so a crash cannot resurrect the old records.
	return x.saveLocked(ctx)
}

func (x *Index) Size(ctx context.Context) (int, error) {
	_ = ctx
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records), nil
}

func (x *Index) Dimension(ctx context.Context) (int, error) {
	_ = ctx
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dim, nil
}

func (x *Index) AllMetadata(ctx context.Context) ([]model.ChunkMeta, error) {
	_ = ctx
	x.mu.RLock()
	defer x.mu.RUnlock()
	metas := make([]model.ChunkMeta, len(x.records))
	for i := range x.records {
		metas[i] = x.records[i].meta
	}
	return metas, nil
}

func normalized(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

func sqDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
