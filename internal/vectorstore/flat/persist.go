package flat

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"askdoc/internal/model"
	apperr "askdoc/internal/pkg/errors"
)

// vectorHeader prefixes the binary vector artifact: dimension and record
// count, little endian, followed by count*dimension float32 values.
type vectorHeader struct {
	Dimension int64
	Count     int64
}

// maxDimension bounds the per-record allocation a persisted header can
// demand. Real embedding models stay orders of magnitude below this.
const maxDimension = 1 << 20

// Save writes the vector artifact and the metadata artifact as a pair.
// It observes a consistent snapshot: writers are blocked for the duration.
func (x *Index) Save(ctx context.Context) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.saveLocked(ctx)
}

func (x *Index) saveLocked(ctx context.Context) error {
	vecBuf := new(bytes.Buffer)
	header := vectorHeader{Dimension: int64(x.dim), Count: int64(len(x.records))}
	if err := binary.Write(vecBuf, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("encode vector header: %w", err)
	}
	for i := range x.records {
		if err := binary.Write(vecBuf, binary.LittleEndian, x.records[i].vector); err != nil {
			return fmt.Errorf("encode vector %d: %w", i, err)
		}
	}

	metas := make([]model.ChunkMeta, len(x.records))
	for i := range x.records {
		metas[i] = x.records[i].meta
	}
	metaData, err := json.MarshalIndent(metas, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := x.files.Save(ctx, x.indexKey, bytes.NewReader(vecBuf.Bytes()), int64(vecBuf.Len())); err != nil {
		return fmt.Errorf("save vector artifact: %w", err)
	}
	if err := x.files.Save(ctx, x.metaKey, bytes.NewReader(metaData), int64(len(metaData))); err != nil {
		return fmt.Errorf("save metadata artifact: %w", err)
	}
	return nil
}

// Load restores the persisted pair. A missing pair leaves a fresh empty
// index; a half-missing or inconsistent pair is a corrupt store. The
// dimension always comes from the persisted vectors, never the config.
func (x *Index) Load(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	haveVec, err := x.files.Exists(ctx, x.indexKey)
	if err != nil {
		return fmt.Errorf("check vector artifact: %w", err)
	}
	haveMeta, err := x.files.Exists(ctx, x.metaKey)
	if err != nil {
		return fmt.Errorf("check metadata artifact: %w", err)
	}
	if !haveVec && !haveMeta {
		return nil
	}
	if haveVec != haveMeta {
		return fmt.Errorf("%w: artifact pair is incomplete", apperr.ErrCorruptStore)
	}

	dim, vectors, err := x.readVectors(ctx)
	if err != nil {
		return err
	}
	metas, err := x.readMetadata(ctx)
	if err != nil {
		return err
	}
	if len(metas) != len(vectors) {
		return fmt.Errorf("%w: %d vectors, %d metadata records", apperr.ErrCorruptStore, len(vectors), len(metas))
	}

	records := make([]record, len(vectors))
	for i := range vectors {
		records[i] = record{vector: vectors[i], meta: metas[i]}
	}
	if dim > 0 {
		x.dim = dim
	}
	x.records = records
	return nil
}

func (x *Index) readVectors(ctx context.Context) (int, [][]float32, error) {
	rc, err := x.files.Open(ctx, x.indexKey)
	if err != nil {
		return 0, nil, fmt.Errorf("open vector artifact: %w", err)
	}
	defer rc.Close()

	var header vectorHeader
	if err := binary.Read(rc, binary.LittleEndian, &header); err != nil {
		return 0, nil, fmt.Errorf("%w: unreadable vector header", apperr.ErrCorruptStore)
	}
	if header.Dimension < 0 || header.Count < 0 || (header.Count > 0 && header.Dimension == 0) {
		return 0, nil, fmt.Errorf("%w: vector header dimension=%d count=%d", apperr.ErrCorruptStore, header.Dimension, header.Count)
	}
	if header.Dimension > maxDimension {
		return 0, nil, fmt.Errorf("%w: implausible vector dimension %d", apperr.ErrCorruptStore, header.Dimension)
	}

	// The header is untrusted input: never allocate count-sized memory up
	// front. Records are appended as they decode, so a lying count fails on
	// the first missing record instead of exhausting memory.
	var vectors [][]float32
	for i := int64(0); i < header.Count; i++ {
		vec := make([]float32, header.Dimension)
		if err := binary.Read(rc, binary.LittleEndian, vec); err != nil {
			return 0, nil, fmt.Errorf("%w: truncated vector data at record %d", apperr.ErrCorruptStore, i)
		}
		vectors = append(vectors, vec)
	}
	// Trailing garbage means the artifact does not match its header.
	var scratch [1]byte
	if n, _ := rc.Read(scratch[:]); n != 0 {
		return 0, nil, fmt.Errorf("%w: vector artifact larger than header declares", apperr.ErrCorruptStore)
	}
	return int(header.Dimension), vectors, nil
}

func (x *Index) readMetadata(ctx context.Context) ([]model.ChunkMeta, error) {
	rc, err := x.files.Open(ctx, x.metaKey)
	if err != nil {
		return nil, fmt.Errorf("open metadata artifact: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read metadata artifact: %w", err)
	}
	var metas []model.ChunkMeta
	if err := json.Unmarshal(data, &metas); err != nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrCorruptStore, err)
	}
	return metas, nil
}
