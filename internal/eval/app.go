// SPDX-License-Identifier: MPL-2.0

package eval

import (
	"context"
	"fmt"
	"path/filepath"

	"cuelang.org/go/cue"

	"github.com/appbundle/appbundle/internal/model"
	"github.com/appbundle/appbundle/internal/pkgref"
	"github.com/appbundle/appbundle/internal/store"
	"github.com/appbundle/appbundle/pkg/cueutil"
)

type appSpec struct {
	Type    string `json:"type"`
	Program string `json:"program"`
	Src     string `json:"src,omitempty"`
}

// ResolveApplication parses installable as "<ref>[#attr]", evaluates the
// app it names and realises the app's store context. Without an attribute
// it uses defaultApp.<system> and then defaultPackage.<system>; otherwise
// apps.<system>.<attr>, packages.<system>.<attr> and the bare attribute are
// tried. A derivation found this way runs <out>/bin/<mainProgram or name>.
func (e *Evaluator) ResolveApplication(ctx context.Context, installable, system string) (model.App, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if installable == "" {
		installable = "."
	}
	ref, attr, err := pkgref.ParseWithFragment(installable, e.baseDir)
	if err != nil {
		return model.App{}, err
	}

	paths, prefixes := []string{"defaultApp." + system, "defaultPackage." + system}, []string{""}
	if attr != "" {
		paths, prefixes = []string{attr}, []string{"apps." + system + ".", "packages." + system + ".", ""}
	}
	v, err := e.evalAttr(ctx, ref, paths, prefixes, model.LockFlags{WriteLockFile: true})
	if err != nil {
		return model.App{}, err
	}
	return e.toApp(ctx, v)
}

func (e *Evaluator) toApp(ctx context.Context, v *Value) (model.App, error) {
	if isDerivation(v.v) {
		return e.packageApp(ctx, v.v)
	}
	if !isApp(v.v) {
		return model.App{}, fmt.Errorf("%w: got %s", ErrNotAnApp, v.Kind())
	}
	var spec appSpec
	if err := v.v.Decode(&spec); err != nil {
		return model.App{}, cueutil.FormatError(err, "app")
	}

	var roots []model.StorePath
	program := spec.Program

	switch pkg := v.v.LookupPath(cue.MakePath(cue.Str("package"))); {
	case pkg.Exists():
		plan, _, err := e.instantiate(pkg, nil)
		if err != nil {
			return model.App{}, err
		}
		out, err := e.store.BuildPlan(ctx, plan)
		if err != nil {
			return model.App{}, fmt.Errorf("failed to build app package: %w", err)
		}
		roots = append(roots, out)
		program = joinProgram(out, program)
	case spec.Src != "":
		if !filepath.IsLocal(spec.Src) {
			return model.App{}, fmt.Errorf("%w: src %q escapes the package directory", ErrNotAnApp, spec.Src)
		}
		name := filepath.Base(filepath.Clean(spec.Src))
		if !store.ValidName(name) {
			name = "source"
		}
		src, err := e.store.AddArtifact(name, filepath.Join(v.dir, spec.Src), nil)
		if err != nil {
			return model.App{}, fmt.Errorf("failed to add app source: %w", err)
		}
		roots = append(roots, src)
		program = joinProgram(src, program)
	}

	if !filepath.IsAbs(program) {
		return model.App{}, fmt.Errorf("%w: program %q is not an absolute path", ErrNotAnApp, program)
	}
	roots = append(roots, e.store.PathsIn(program)...)
	closure, err := e.store.QueryClosure(roots)
	if err != nil {
		return model.App{}, fmt.Errorf("program %s references an invalid store path: %w", program, err)
	}
	return model.App{Program: program, Context: closure}, nil
}

// packageApp builds the derivation d and runs its main program.
func (e *Evaluator) packageApp(ctx context.Context, d cue.Value) (model.App, error) {
	var spec derivationSpec
	if err := d.Decode(&spec); err != nil {
		return model.App{}, cueutil.FormatError(err, "package")
	}
	plan, _, err := e.instantiate(d, nil)
	if err != nil {
		return model.App{}, err
	}
	out, err := e.store.BuildPlan(ctx, plan)
	if err != nil {
		return model.App{}, fmt.Errorf("failed to build package %s: %w", spec.Name, err)
	}
	prog := spec.MainProgram
	if prog == "" {
		prog = spec.Name
	}
	closure, err := e.store.QueryClosure([]model.StorePath{out})
	if err != nil {
		return model.App{}, err
	}
	return model.App{Program: filepath.Join(string(out), "bin", prog), Context: closure}, nil
}

func isApp(v cue.Value) bool {
	if v.IncompleteKind() != cue.StructKind {
		return false
	}
	t, err := v.LookupPath(typePath).String()
	return err == nil && t == "app"
}

func joinProgram(root model.StorePath, program string) string {
	if filepath.IsAbs(program) {
		return program
	}
	return filepath.Join(string(root), program)
}
