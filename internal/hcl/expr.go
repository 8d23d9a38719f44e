// This file analyses the attribute expressions of parameters and
// environment maps, telling literals apart from artifact and export
// references.

package hcl

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/specialistvlad/cdflow/internal/pipeline"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

const (
	artifactRoot = "artifact"
	exportRoot   = "export"
)

type refKind int

const (
	refNone refKind = iota
	refArtifact
	refExport
)

type reference struct {
	kind  refKind
	name  string
	field pipeline.Field
}

type entry struct {
	key     string
	literal string
	ref     reference
}

// isExprDefined reports whether an optional attribute was written in the
// source. gohcl fills omitted attributes with a zero-width placeholder.
func isExprDefined(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	rng := expr.Range()
	return rng.End.Byte > rng.Start.Byte
}

// analyseMap reads an object expression into entries sorted by key.
func analyseMap(expr hcl.Expression, attr string) ([]entry, error) {
	if !isExprDefined(expr) {
		return nil, nil
	}
	pairs, diags := hcl.ExprMap(expr)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%s must be an object: %w", attr, diags)
	}

	out := make([]entry, 0, len(pairs))
	seen := make(map[string]bool, len(pairs))
	for _, kv := range pairs {
		key, err := evalString(kv.Key)
		if err != nil {
			return nil, fmt.Errorf("%s key: %w", attr, err)
		}
		if seen[key] {
			return nil, fmt.Errorf("%s: key %q is set more than once", attr, key)
		}
		seen[key] = true

		e := entry{key: key}
		if ref, ok, err := analyseReference(kv.Value); err != nil {
			return nil, fmt.Errorf("%s %q: %w", attr, key, err)
		} else if ok {
			e.ref = ref
		} else if e.literal, err = evalString(kv.Value); err != nil {
			return nil, fmt.Errorf("%s %q: %w", attr, key, err)
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b entry) int { return strings.Compare(a.key, b.key) })
	return out, nil
}

// analyseReference recognises artifact.<name>[.<field>] and export.<name>.
// Any other expression, including the true, false and null keywords, is
// reported as not a reference.
func analyseReference(expr hcl.Expression) (reference, bool, error) {
	if _, ok := expr.(*hclsyntax.ScopeTraversalExpr); !ok {
		return reference{}, false, nil
	}
	trav, diags := hcl.AbsTraversalForExpr(expr)
	if diags.HasErrors() {
		return reference{}, false, nil
	}

	var steps []string
	for _, step := range trav[1:] {
		switch s := step.(type) {
		case hcl.TraverseAttr:
			steps = append(steps, s.Name)
		case hcl.TraverseIndex:
			if s.Key.Type() != cty.String || s.Key.IsNull() {
				return reference{}, false, fmt.Errorf("reference %s: index must be a string", trav.RootName())
			}
			steps = append(steps, s.Key.AsString())
		default:
			return reference{}, false, fmt.Errorf("unsupported reference step in %s", trav.RootName())
		}
	}

	switch trav.RootName() {
	case artifactRoot:
		if len(steps) < 1 || len(steps) > 2 {
			return reference{}, false, fmt.Errorf("artifact references have the form artifact.<name>[.location|.bucket|.key]")
		}
		var field string
		if len(steps) == 2 {
			field = steps[1]
		}
		f, err := pipeline.ParseField(field)
		if err != nil {
			return reference{}, false, err
		}
		return reference{kind: refArtifact, name: steps[0], field: f}, true, nil
	case exportRoot:
		if len(steps) != 1 {
			return reference{}, false, fmt.Errorf("export references have the form export.<name>")
		}
		return reference{kind: refExport, name: steps[0]}, true, nil
	}
	return reference{}, false, fmt.Errorf("unknown reference root %q: must be %s or %s", trav.RootName(), artifactRoot, exportRoot)
}

// evalString evaluates a literal expression and converts it to a string.
func evalString(expr hcl.Expression) (string, error) {
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return "", diags
	}
	if val.IsNull() || !val.IsWhollyKnown() {
		return "", fmt.Errorf("value must not be null")
	}
	str, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", fmt.Errorf("value must be a string, number or bool: %w", err)
	}
	return str.AsString(), nil
}
