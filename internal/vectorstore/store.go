package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"askdoc/internal/config"
	"askdoc/internal/filestore"
	"askdoc/internal/model"
)

// Store is a similarity index over fixed-dimension float32 vectors. One
// vector is always paired with exactly one chunk metadata record; backends
// must never let the two drift apart.
type Store interface {
	// Add appends a batch of vectors and their metadata in order.
	Add(ctx context.Context, vectors [][]float32, metas []model.ChunkMeta) error
	// Search returns at most min(topK, size) results ordered by descending
	// similarity. An empty index yields an empty result, not an error.
	Search(ctx context.Context, query []float32, topK int) ([]model.SearchResult, error)
	// Save persists the current state. Backends with their own durability
	// treat this as a no-op.
	Save(ctx context.Context) error
	// Load restores previously persisted state.
	Load(ctx context.Context) error
	// Clear discards all records and persists the empty state.
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int, error)
	Dimension(ctx context.Context) (int, error)
	// AllMetadata returns every stored chunk's metadata in insertion order.
	AllMetadata(ctx context.Context) ([]model.ChunkMeta, error)
}

// Factory builds a Store. The artifact store is passed for backends that
// persist through it; database-backed stores ignore it.
type Factory func(files filestore.Store, args interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.VectorStoreConfig, files filestore.Store) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("vector_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
	return factory(files, cfg.Data)
}

// DecodeConfig re-marshals opaque factory args into a backend config struct.
func DecodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode vector store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode vector store config: %w", err)
	}
	return nil
}
