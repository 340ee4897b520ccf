// SPDX-License-Identifier: MPL-2.0

package eval

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"

	"github.com/appbundle/appbundle/internal/model"
	"github.com/appbundle/appbundle/internal/store"
	"github.com/appbundle/appbundle/pkg/cueutil"
)

const (
	planField   = "planPath"
	outputField = "outPath"
)

type derivationSpec struct {
	Type    string            `json:"type"`
	Name    string            `json:"name"`
	System  string            `json:"system"`
	Builder string            `json:"builder"`
	Env     map[string]string `json:"env,omitempty"`
	// MainProgram names the executable under bin/ when the derivation is
	// run as an app. It defaults to Name.
	MainProgram string `json:"mainProgram,omitempty"`
}

// CallFunction fills the function's #in with the text of args and returns
// its out field. A derivation result is written to the store; store paths
// carried by args become inputs of the plan only when the derivation's
// builder or environment mentions them.
func (e *Evaluator) CallFunction(_ context.Context, fn model.Value, args model.Record) (model.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := fn.(*Value)
	if !ok || f.Kind() != model.KindFunction {
		kind := model.KindOther
		if fn != nil {
			kind = fn.Kind()
		}
		return nil, fmt.Errorf("%w: got %s", ErrNotAFunction, kind)
	}

	in := make(map[string]string, len(args))
	for k, a := range args {
		in[k] = a.Text
	}
	out := f.v.FillPath(inPath, in).LookupPath(outPath)
	if err := out.Err(); err != nil {
		return nil, cueutil.FormatError(err, "out")
	}

	res := &Value{v: out, dir: f.dir, cctx: e.cctx}
	if isDerivation(out) {
		plan, output, err := e.instantiate(out, args.Context())
		if err != nil {
			return nil, err
		}
		res.overlay = map[string]string{planField: string(plan), outputField: string(output)}
	}
	return res, nil
}

// instantiate writes the derivation v and, recursively, its inputs to the
// store. Each named input's output path is exported to the builder under
// the input's name.
func (e *Evaluator) instantiate(v cue.Value, available []model.StorePath) (plan, out model.StorePath, err error) {
	var d derivationSpec
	if err := v.Decode(&d); err != nil {
		return "", "", cueutil.FormatError(err, "derivation")
	}
	p := store.Plan{
		Name:    d.Name,
		System:  d.System,
		Builder: d.Builder,
		Env:     maps.Clone(d.Env),
	}
	if p.Env == nil {
		p.Env = make(map[string]string)
	}

	if inputs := v.LookupPath(cue.MakePath(cue.Str("inputs"))); inputs.Exists() {
		it, err := inputs.Fields()
		if err != nil {
			return "", "", cueutil.FormatError(err, d.Name+".inputs")
		}
		for it.Next() {
			name := it.Selector().Unquoted()
			inPlan, inOut, err := e.instantiate(it.Value(), available)
			if err != nil {
				return "", "", fmt.Errorf("input %s of %s: %w", name, d.Name, err)
			}
			p.Env[name] = string(inOut)
			p.InputPlans = append(p.InputPlans, inPlan)
		}
	}

	p.InputSrcs = referencedPaths(p, available)
	return e.store.AddPlan(p)
}

// referencedPaths returns the members of available that occur in the
// builder or environment of p.
func referencedPaths(p store.Plan, available []model.StorePath) []model.StorePath {
	var text strings.Builder
	text.WriteString(p.Builder)
	for _, k := range slices.Sorted(maps.Keys(p.Env)) {
		text.WriteString("\x00" + p.Env[k])
	}
	s := text.String()

	var refs []model.StorePath
	for _, path := range available {
		if strings.Contains(s, string(path)) {
			refs = append(refs, path)
		}
	}
	return model.SortedPaths(refs)
}

// CoerceToPath returns the output path of an instantiated derivation or the
// content of a string holding an absolute path.
func (e *Evaluator) CoerceToPath(_ context.Context, v model.Value) (string, error) {
	if val, ok := v.(*Value); ok && val.overlay != nil {
		return val.overlay[outputField], nil
	}
	if v == nil {
		return "", fmt.Errorf("%w: nil value", ErrNotCoercible)
	}
	s, ok := v.Text()
	if !ok {
		return "", fmt.Errorf("%w: got %s", ErrNotCoercible, v.Kind())
	}
	if !filepath.IsAbs(s) {
		return "", fmt.Errorf("%w: %q is not an absolute path", ErrNotCoercible, s)
	}
	return s, nil
}
