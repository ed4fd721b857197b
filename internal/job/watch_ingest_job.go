package job

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"askdoc/internal/engine"
	"askdoc/internal/extract"
	apperr "askdoc/internal/pkg/errors"
)

// WatchIngestJob scans the configured directories and ingests every
// supported file whose content changed since the last scan. Content is
// compared by hash, so touching a file without editing it does nothing.
type WatchIngestJob struct {
	eng  *engine.Engine
	dirs []string

	mu   sync.Mutex
	seen map[string]string // path -> content hash
}

func NewWatchIngestJob(eng *engine.Engine, dirs []string) *WatchIngestJob {
	return &WatchIngestJob{
		eng:  eng,
		dirs: dirs,
		seen: make(map[string]string),
	}
}

func (j *WatchIngestJob) Name() string {
	return "watch_ingest"
}

func (j *WatchIngestJob) Run(ctx context.Context) error {
	if j.eng == nil || len(j.dirs) == 0 {
		return nil
	}
	logger := logutil.GetLogger(ctx)
	var firstErr error
	for _, dir := range j.dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !extract.Supported(path) {
				return nil
			}
			if err := j.ingestIfChanged(ctx, path); err != nil {
				logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
			}
			return nil
		})
		if err != nil {
			logger.Warn("watch scan failed", zap.String("dir", dir), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (j *WatchIngestJob) ingestIfChanged(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	j.mu.Lock()
	unchanged := j.seen[path] == hash
	j.mu.Unlock()
	if unchanged {
		return nil
	}

	n, err := j.eng.IngestFile(ctx, path)
	if err != nil {
		if apperr.IsEmptyDocument(err) {
			// Nothing chunkable; remember the hash so the file is not
			// re-read every scan.
			j.mu.Lock()
			j.seen[path] = hash
			j.mu.Unlock()
			logutil.GetLogger(ctx).Debug("watched file empty, skipped", zap.String("path", path))
			return nil
		}
		return err
	}
	j.mu.Lock()
	j.seen[path] = hash
	j.mu.Unlock()
	logutil.GetLogger(ctx).Info("watched file ingested", zap.String("path", path), zap.Int("chunks", n))
	return nil
}
