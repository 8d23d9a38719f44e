package config

import (
	"context"
	"fmt"

	"github.com/specialistvlad/cdflow/internal/pipeline"
	"github.com/specialistvlad/cdflow/internal/selfmutate"
)

// Loader reads definition files and translates them into a Model.
type Loader interface {
	Load(ctx context.Context, paths ...string) (*Model, error)
}

// SelfMutation names the pipeline that redeploys the definition and the
// stack it deploys to.
type SelfMutation struct {
	Pipeline string
	Stack    string
}

// Model is the unified representation of every loaded definition file.
type Model struct {
	Repositories []pipeline.Repository
	Pipelines    []pipeline.Spec
	// SelfMutation is nil when no pipeline redeploys the definition.
	SelfMutation *SelfMutation
	// Files lists the files the model was loaded from, in load order.
	Files []string
}

// Definition converts the model into a self-mutation definition. It fails
// when the model declares no self-mutation.
func (m *Model) Definition() (selfmutate.Definition, error) {
	if m.SelfMutation == nil {
		return selfmutate.Definition{}, fmt.Errorf("no self_mutation block is declared")
	}
	return selfmutate.Definition{
		Mutation:  m.SelfMutation.Pipeline,
		SelfStack: m.SelfMutation.Stack,
		Pipelines: m.Pipelines,
	}, nil
}

// Topology builds and validates every pipeline of the model. Without a
// self-mutation block all pipelines are applications.
func (m *Model) Topology() (*selfmutate.Topology, error) {
	if len(m.Pipelines) == 0 {
		return nil, fmt.Errorf("no pipelines are defined")
	}
	if m.SelfMutation == nil {
		return selfmutate.ApplicationsOnly(m.Pipelines)
	}
	def, err := m.Definition()
	if err != nil {
		return nil, err
	}
	return selfmutate.Plan(def)
}

// FromDefinition builds a model from an in-code definition. Repositories are
// collected from every pipeline in first-seen order.
func FromDefinition(def selfmutate.Definition) *Model {
	m := &Model{Pipelines: def.Pipelines}
	if def.Mutation != "" {
		m.SelfMutation = &SelfMutation{Pipeline: def.Mutation, Stack: def.SelfStack}
	}
	seen := make(map[string]bool)
	for _, p := range def.Pipelines {
		for _, r := range p.Repositories {
			if !seen[r.Name] {
				seen[r.Name] = true
				m.Repositories = append(m.Repositories, r)
			}
		}
	}
	return m
}
