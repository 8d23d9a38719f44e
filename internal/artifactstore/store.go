// Package artifactstore persists artifact directories between actions and
// hands back the location each one was written to.
package artifactstore

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/specialistvlad/cdflow/internal/pipeline"
)

// Store writes and reads artifact bundles.
type Store interface {
	// Put uploads the contents of dir as artifact name of execution run.
	Put(ctx context.Context, run, name, dir string) (pipeline.Location, error)
	// Fetch downloads the artifact at loc into dir.
	Fetch(ctx context.Context, loc pipeline.Location, dir string) error
}

// objectKey is the key prefix under which an artifact is stored.
func objectKey(run, name string) (string, error) {
	if run == "" || name == "" {
		return "", fmt.Errorf("artifact key needs a run and a name, got %q and %q", run, name)
	}
	if strings.ContainsAny(name, `/\`) || name == ".." || name == "." {
		return "", fmt.Errorf("artifact name %q is not a valid key segment", name)
	}
	return path.Join(run, name), nil
}
