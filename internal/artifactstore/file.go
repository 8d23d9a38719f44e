package artifactstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/specialistvlad/cdflow/internal/ctxlog"
	"github.com/specialistvlad/cdflow/internal/fsutil"
	"github.com/specialistvlad/cdflow/internal/pipeline"
)

// LocalBucket is the bucket name reported for artifacts kept on disk.
const LocalBucket = "local"

// FileStore keeps artifacts in a directory tree rooted at Root.
type FileStore struct {
	Root string
}

// NewFileStore returns a store rooted at root, creating it if needed.
func NewFileStore(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &FileStore{Root: abs}, nil
}

// Put implements Store.
func (s *FileStore) Put(ctx context.Context, run, name, dir string) (pipeline.Location, error) {
	key, err := objectKey(run, name)
	if err != nil {
		return pipeline.Location{}, err
	}
	target := filepath.Join(s.Root, filepath.FromSlash(key))
	if _, err := os.Stat(target); err == nil {
		return pipeline.Location{}, fmt.Errorf("artifact %q already stored for run %s", name, run)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return pipeline.Location{}, err
	}
	n, err := fsutil.CopyTree(dir, target)
	if err != nil {
		return pipeline.Location{}, fmt.Errorf("failed to store artifact %q: %w", name, err)
	}
	ctxlog.FromContext(ctx).Debug("Stored artifact.", "artifact", name, "size", humanize.Bytes(uint64(n)), "path", target)
	return pipeline.Location{
		Bucket: LocalBucket,
		Key:    key,
		URI:    "file://" + filepath.ToSlash(target),
	}, nil
}

// Fetch implements Store.
func (s *FileStore) Fetch(ctx context.Context, loc pipeline.Location, dir string) error {
	if loc.Bucket != LocalBucket {
		return fmt.Errorf("location %s is not held by the local store", loc)
	}
	src := filepath.Join(s.Root, filepath.FromSlash(loc.Key))
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("artifact %s: %w", loc, err)
	}
	n, err := fsutil.CopyTree(src, dir)
	if err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("Fetched artifact.", "location", loc.URI, "size", humanize.Bytes(uint64(n)))
	return nil
}
