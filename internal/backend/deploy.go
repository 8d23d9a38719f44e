package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/specialistvlad/cdflow/internal/ctxlog"
	"github.com/specialistvlad/cdflow/internal/fsutil"
	"github.com/specialistvlad/cdflow/internal/pipeline"
)

// Deployment records the last successful deployment of a stack.
type Deployment struct {
	Stack       string
	ExecutionID string
	Parameters  map[string]string
	Outputs     map[string]string
	DeployedAt  time.Time
}

// template is the subset of a CloudFormation template the local backend
// understands.
type template struct {
	Parameters map[string]templateParameter `json:"Parameters"`
	Outputs    map[string]templateOutput    `json:"Outputs"`
}

type templateParameter struct {
	Type    string  `json:"Type"`
	Default *string `json:"Default"`
}

type templateOutput struct {
	Value  json.RawMessage `json:"Value"`
	Export *struct {
		Name string `json:"Name"`
	} `json:"Export"`
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z0-9_:.]+)\}`)

func (l *Local) deploy(ctx context.Context, inv *Invocation) (*Result, error) {
	target := inv.Action.DeployTarget()
	if target == nil {
		return nil, fmt.Errorf("action %q has no deploy target", inv.Action.Name())
	}
	loc, ok := inv.Inputs[target.Template]
	if !ok {
		return nil, fmt.Errorf("template artifact %q was not resolved", target.Template)
	}

	dir, err := os.MkdirTemp(l.WorkDir, "cdflow-template-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	if err := l.Store.Fetch(ctx, loc, dir); err != nil {
		return nil, fmt.Errorf("fetching template artifact %q: %w", target.Template, err)
	}

	path, err := templateFile(dir, target.TemplatePath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tpl template
	if err := json.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("template %q: %w", target.TemplatePath, err)
	}

	params, err := tpl.parameters(inv.Parameters)
	if err != nil {
		return nil, fmt.Errorf("stack %q: %w", target.StackName, err)
	}
	params["AWS::StackName"] = target.StackName

	outputs := make(map[string]string, len(tpl.Outputs))
	exported := make(map[string]string)
	for _, name := range slices.Sorted(maps.Keys(tpl.Outputs)) {
		out := tpl.Outputs[name]
		value, err := evaluate(out.Value, params)
		if err != nil {
			return nil, fmt.Errorf("stack %q output %q: %w", target.StackName, name, err)
		}
		outputs[name] = value
		if out.Export != nil && out.Export.Name != "" {
			exported[out.Export.Name] = value
		}
	}

	delete(params, "AWS::StackName")
	l.mu.Lock()
	if l.stacks == nil {
		l.stacks = make(map[string]Deployment)
	}
	l.stacks[target.StackName] = Deployment{
		Stack:       target.StackName,
		ExecutionID: inv.ExecutionID,
		Parameters:  params,
		Outputs:     outputs,
		DeployedAt:  time.Now(),
	}
	l.mu.Unlock()

	ctxlog.FromContext(ctx).Info("🚀 Stack deployed.", "stack", target.StackName, "outputs", len(outputs), "exports", len(exported))

	result := &Result{Outputs: make(map[string]pipeline.Location), Exports: exported}
	if names := inv.Action.Outputs(); len(names) > 0 {
		// Declared outputs of a deploy action receive the stack outputs file.
		outDir := filepath.Join(dir, ".outputs")
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return nil, err
		}
		body, err := json.MarshalIndent(outputs, "", "  ")
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(outDir, "outputs.json"), body, 0o644); err != nil {
			return nil, err
		}
		for _, name := range names {
			loc, err := l.Store.Put(ctx, inv.ExecutionID, name, outDir)
			if err != nil {
				return nil, err
			}
			result.Outputs[name] = loc
		}
	}
	return result, nil
}

// Deployment returns the last deployment of a stack.
func (l *Local) Deployment(stack string) (Deployment, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.stacks[stack]
	return d, ok
}

// templateFile locates the template inside the fetched artifact. Without an
// explicit path the artifact must hold exactly one *.template.json file.
func templateFile(dir, rel string) (string, error) {
	if rel != "" {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("template %q not found in artifact", rel)
		}
		return p, nil
	}
	found, err := fsutil.FindFilesByExtension(dir, ".template.json")
	if err != nil {
		return "", err
	}
	if len(found) != 1 {
		return "", fmt.Errorf("artifact holds %d template files; set template_path", len(found))
	}
	return found[0], nil
}

// parameters checks the supplied values against the template's declared
// parameters and fills in defaults.
func (t template) parameters(supplied map[string]string) (map[string]string, error) {
	out := maps.Clone(supplied)
	if out == nil {
		out = make(map[string]string)
	}
	for _, name := range slices.Sorted(maps.Keys(t.Parameters)) {
		if _, ok := out[name]; ok {
			continue
		}
		if def := t.Parameters[name].Default; def != nil {
			out[name] = *def
			continue
		}
		return nil, fmt.Errorf("parameter %q has no value and no default", name)
	}
	return out, nil
}

// evaluate computes an output value. Plain strings and Fn::Sub strings have
// ${name} placeholders replaced; {"Ref": name} yields a parameter.
func evaluate(raw json.RawMessage, params map[string]string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return substitute(s, params)
	}
	var fn map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fn); err != nil {
		return "", fmt.Errorf("unsupported value %s", raw)
	}
	if ref, ok := fn["Ref"]; ok {
		var name string
		if err := json.Unmarshal(ref, &name); err != nil {
			return "", fmt.Errorf("bad Ref: %w", err)
		}
		v, ok := params[name]
		if !ok {
			return "", fmt.Errorf("Ref to unknown parameter %q", name)
		}
		return v, nil
	}
	if sub, ok := fn["Fn::Sub"]; ok {
		if err := json.Unmarshal(sub, &s); err != nil {
			return "", fmt.Errorf("bad Fn::Sub: %w", err)
		}
		return substitute(s, params)
	}
	return "", fmt.Errorf("unsupported intrinsic in %s", raw)
}

func substitute(s string, params map[string]string) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unknown placeholders %v", missing)
	}
	return out, nil
}
