// Package buildspec reads CodeBuild-style build specification files. The
// engine treats the result as opaque; only its shape is checked here.
package buildspec

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/specialistvlad/cdflow/internal/pipeline"
	"gopkg.in/yaml.v3"
)

// PhaseOrder is the fixed order in which phases run.
var PhaseOrder = []string{"install", "pre_build", "build", "post_build"}

type file struct {
	Version   string                 `yaml:"version"`
	Phases    map[string]phase       `yaml:"phases"`
	Artifacts artifacts              `yaml:"artifacts"`
	Env       map[string]interface{} `yaml:"env,omitempty"`
}

type phase struct {
	Commands commandList `yaml:"commands"`
}

type artifacts struct {
	BaseDirectory string   `yaml:"base-directory"`
	Files         []string `yaml:"files"`
}

// commandList accepts either a single command string or a list of them.
type commandList []string

func (c *commandList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*c = commandList{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*c = list
		return nil
	}
	return fmt.Errorf("line %d: commands must be a string or a list of strings", value.Line)
}

// Parse decodes a build specification document.
func Parse(data []byte) (*pipeline.BuildSpec, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode build specification: %w", err)
	}
	return f.toSpec()
}

// Load reads and decodes a build specification file.
func Load(path string) (*pipeline.BuildSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	spec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

func (f file) toSpec() (*pipeline.BuildSpec, error) {
	if len(f.Env) > 0 {
		return nil, errors.New("env is not supported in build specifications; use action environment instead")
	}
	known := make(map[string]bool, len(PhaseOrder))
	for _, name := range PhaseOrder {
		known[name] = true
	}
	for name := range f.Phases {
		if !known[name] {
			return nil, fmt.Errorf("unknown phase %q", name)
		}
	}

	spec := &pipeline.BuildSpec{
		Version: f.Version,
		Artifacts: pipeline.OutputSpec{
			BaseDirectory: f.Artifacts.BaseDirectory,
			Files:         f.Artifacts.Files,
		},
	}
	for _, name := range PhaseOrder {
		ph, ok := f.Phases[name]
		if !ok {
			continue
		}
		if len(ph.Commands) == 0 {
			return nil, fmt.Errorf("phase %q has no commands", name)
		}
		spec.Phases = append(spec.Phases, pipeline.Phase{Name: name, Commands: ph.Commands})
	}
	if len(spec.Phases) == 0 {
		return nil, errors.New("build specification has no phases")
	}
	if err := checkFiles(spec.Artifacts.Files); err != nil {
		return nil, err
	}
	return spec, nil
}

func checkFiles(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("artifacts file pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}
	return nil
}

// Validate checks a build specification assembled elsewhere (for example
// inline in a pipeline definition) against the same rules as Parse.
func Validate(spec *pipeline.BuildSpec) error {
	if spec == nil {
		return errors.New("build specification is missing")
	}
	if len(spec.Phases) == 0 {
		return errors.New("build specification has no phases")
	}
	seen := make(map[string]bool)
	last := -1
	for _, ph := range spec.Phases {
		idx := indexOf(ph.Name)
		if idx < 0 {
			return fmt.Errorf("unknown phase %q", ph.Name)
		}
		if seen[ph.Name] {
			return fmt.Errorf("phase %q is declared twice", ph.Name)
		}
		if idx < last {
			return fmt.Errorf("phase %q is out of order", ph.Name)
		}
		if len(ph.Commands) == 0 {
			return fmt.Errorf("phase %q has no commands", ph.Name)
		}
		seen[ph.Name] = true
		last = idx
	}
	return checkFiles(spec.Artifacts.Files)
}

func indexOf(name string) int {
	for i, n := range PhaseOrder {
		if n == name {
			return i
		}
	}
	return -1
}
