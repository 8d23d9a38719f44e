package hcl

import (
	"maps"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/specialistvlad/cdflow/internal/config"
	"github.com/specialistvlad/cdflow/internal/pipeline"
	"github.com/zclconf/go-cty/cty"
)

// Render writes a model as a single canonical HCL document that Load reads
// back into an equivalent model. Build specifications are rendered inline.
func Render(m *config.Model) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	for _, r := range m.Repositories {
		blk := body.AppendNewBlock("repository", []string{r.Name})
		blk.Body().SetAttributeValue("branch", cty.StringVal(r.Branch))
	}
	if sm := m.SelfMutation; sm != nil {
		body.AppendNewline()
		blk := body.AppendNewBlock("self_mutation", nil)
		blk.Body().SetAttributeValue("pipeline", cty.StringVal(sm.Pipeline))
		blk.Body().SetAttributeValue("stack", cty.StringVal(sm.Stack))
	}
	for _, p := range m.Pipelines {
		body.AppendNewline()
		renderPipeline(body, p)
	}
	return f.Bytes()
}

func renderPipeline(parent *hclwrite.Body, p pipeline.Spec) {
	pb := parent.AppendNewBlock("pipeline", []string{p.Name}).Body()
	for i, st := range p.Stages {
		if i > 0 {
			pb.AppendNewline()
		}
		sb := pb.AppendNewBlock("stage", []string{st.Name}).Body()
		for j, a := range st.Actions {
			if j > 0 {
				sb.AppendNewline()
			}
			renderAction(sb.AppendNewBlock("action", []string{a.Kind.String(), a.Name}).Body(), a)
		}
	}
}

func renderAction(ab *hclwrite.Body, a pipeline.ActionSpec) {
	if a.Repository != "" {
		ab.SetAttributeValue("repository", cty.StringVal(a.Repository))
	}
	if len(a.Inputs) > 0 {
		ab.SetAttributeValue("inputs", stringList(a.Inputs))
	}
	if len(a.Outputs) > 0 {
		ab.SetAttributeValue("outputs", stringList(a.Outputs))
	}

	if d := a.Deploy; d != nil {
		if d.StackName != "" {
			ab.SetAttributeValue("stack_name", cty.StringVal(d.StackName))
		}
		if d.Template != "" {
			ab.SetAttributeValue("template", cty.StringVal(d.Template))
		}
		if d.TemplatePath != "" {
			ab.SetAttributeValue("template_path", cty.StringVal(d.TemplatePath))
		}
	}

	var params []hclwrite.ObjectAttrTokens
	if a.Deploy != nil {
		for _, k := range slices.Sorted(maps.Keys(a.Deploy.Parameters)) {
			params = append(params, objectAttr(k, hclwrite.TokensForValue(cty.StringVal(a.Deploy.Parameters[k]))))
		}
	}
	for _, b := range a.Bindings {
		trav := hcl.Traversal{hcl.TraverseRoot{Name: artifactRoot}, hcl.TraverseAttr{Name: b.Artifact}}
		if b.Field != "" && b.Field != pipeline.FieldLocation {
			trav = append(trav, hcl.TraverseAttr{Name: string(b.Field)})
		}
		params = append(params, objectAttr(b.Param, hclwrite.TokensForTraversal(trav)))
	}
	if len(params) > 0 {
		ab.SetAttributeRaw("parameters", hclwrite.TokensForObject(params))
	}

	var env []hclwrite.ObjectAttrTokens
	for _, k := range slices.Sorted(maps.Keys(a.Environment)) {
		env = append(env, objectAttr(k, hclwrite.TokensForValue(cty.StringVal(a.Environment[k]))))
	}
	for _, d := range a.Deferred {
		trav := hcl.Traversal{hcl.TraverseRoot{Name: exportRoot}, hcl.TraverseAttr{Name: d.Export}}
		env = append(env, objectAttr(d.Variable, hclwrite.TokensForTraversal(trav)))
	}
	if len(env) > 0 {
		ab.SetAttributeRaw("environment", hclwrite.TokensForObject(env))
	}

	if b := a.Build; b != nil {
		renderBuild(ab.AppendNewBlock("build", nil).Body(), b)
	}
}

func renderBuild(bb *hclwrite.Body, b *pipeline.BuildSpec) {
	if b.Version != "" {
		bb.SetAttributeValue("version", cty.StringVal(b.Version))
	}
	for _, ph := range b.Phases {
		bb.AppendNewBlock("phase", []string{ph.Name}).Body().SetAttributeValue("commands", stringList(ph.Commands))
	}
	art := b.Artifacts
	if art.BaseDirectory == "" && len(art.Files) == 0 {
		return
	}
	ob := bb.AppendNewBlock("artifacts", nil).Body()
	if art.BaseDirectory != "" {
		ob.SetAttributeValue("base_directory", cty.StringVal(art.BaseDirectory))
	}
	if len(art.Files) > 0 {
		ob.SetAttributeValue("files", stringList(art.Files))
	}
}

func objectAttr(name string, value hclwrite.Tokens) hclwrite.ObjectAttrTokens {
	nameTokens := hclwrite.TokensForIdentifier(name)
	if !hclsyntax.ValidIdentifier(name) {
		nameTokens = hclwrite.TokensForValue(cty.StringVal(name))
	}
	return hclwrite.ObjectAttrTokens{Name: nameTokens, Value: value}
}

func stringList(items []string) cty.Value {
	if len(items) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, len(items))
	for i, s := range items {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}
