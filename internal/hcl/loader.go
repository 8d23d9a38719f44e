package hcl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/cdflow/internal/config"
	"github.com/specialistvlad/cdflow/internal/ctxlog"
	"github.com/specialistvlad/cdflow/internal/fsutil"
	"github.com/specialistvlad/cdflow/internal/pipeline"
)

// Loader is the HCL implementation of config.Loader.
type Loader struct{}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a new HCL definition loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file under the given paths and merges them into a
// single model. Repositories, pipelines and the self_mutation block may be
// spread over several files, but each may be declared only once.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl files found in %v", paths)
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	model := &config.Model{Files: files}
	repos := make(map[string]pipeline.Repository)
	var pipelines []*pipelineBlock
	var pipelineFiles []string
	seenPipelines := make(map[string]string)

	parser := hclparse.NewParser()
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		for _, r := range root.Repositories {
			if _, dup := repos[r.Name]; dup {
				return nil, fmt.Errorf("%s: repository %q is declared more than once", r.DefRange, r.Name)
			}
			repo := pipeline.Repository{Name: r.Name, Branch: r.Branch}
			if repo.Branch == "" {
				repo.Branch = "main"
			}
			repos[r.Name] = repo
			model.Repositories = append(model.Repositories, repo)
		}
		for _, sm := range root.SelfMutation {
			if model.SelfMutation != nil {
				return nil, fmt.Errorf("%s: self_mutation is declared more than once", sm.DefRange)
			}
			model.SelfMutation = &config.SelfMutation{Pipeline: sm.Pipeline, Stack: sm.Stack}
		}
		for _, p := range root.Pipelines {
			if prev, dup := seenPipelines[p.Name]; dup {
				return nil, fmt.Errorf("%s: pipeline %q is already defined in %s", p.DefRange, p.Name, prev)
			}
			seenPipelines[p.Name] = file
			pipelines = append(pipelines, p)
			pipelineFiles = append(pipelineFiles, file)
		}
	}

	for i, p := range pipelines {
		spec, err := translatePipeline(ctx, p, filepath.Dir(pipelineFiles[i]), repos)
		if err != nil {
			return nil, err
		}
		model.Pipelines = append(model.Pipelines, spec)
	}

	logger.Debug("HCL loading complete.", "repositories", len(model.Repositories), "pipelines", len(model.Pipelines), "self_mutation", model.SelfMutation != nil)
	return model, nil
}

// findAllHCLFiles walks all given paths and returns a sorted, de-duplicated
// list of .hcl files. A path that does not exist is an error.
func findAllHCLFiles(paths []string) ([]string, error) {
	var all []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if !info.IsDir() {
			if filepath.Ext(path) == ".hcl" {
				all = append(all, path)
			}
			continue
		}
		found, err := fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			return nil, err
		}
		all = append(all, found...)
	}
	slices.Sort(all)
	return slices.Compact(all), nil
}
