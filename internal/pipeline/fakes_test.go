// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/appbundle/appbundle/internal/model"
	"github.com/appbundle/appbundle/internal/pkgref"
)

const testSystem = "x86_64-linux"

// fakeValue is a minimal model.Value.
type fakeValue struct {
	kind   model.Kind
	text   string
	fields map[string]model.Value
}

func (v *fakeValue) Kind() model.Kind { return v.kind }

func (v *fakeValue) Field(name string) (model.Value, bool) {
	f, ok := v.fields[name]
	return f, ok
}

func (v *fakeValue) Text() (string, bool) { return v.text, v.kind == model.KindString }

func str(s string) *fakeValue { return &fakeValue{kind: model.KindString, text: s} }

func derivation(plan, out string) *fakeValue {
	fields := map[string]model.Value{"type": str("derivation")}
	if plan != "" {
		fields[PlanField] = str(plan)
	}
	if out != "" {
		fields[OutputField] = str(out)
	}
	return &fakeValue{kind: model.KindStruct, fields: fields}
}

// fakeEvaluator serves apps and bundlers from maps.
type fakeEvaluator struct {
	system string
	apps   map[string]model.App
	// bundlers maps "<ref>#<attr>" to a bundler result.
	bundlers map[string]model.Value
	loadErr  error

	lookups []string
	calls   []model.Record
	locks   []model.LockFlags
}

func newFakeEvaluator() *fakeEvaluator {
	return &fakeEvaluator{
		system:   testSystem,
		apps:     map[string]model.App{},
		bundlers: map[string]model.Value{},
	}
}

type fakeFunction struct {
	fakeValue
	result model.Value
}

func (e *fakeEvaluator) ResolveApplication(_ context.Context, installable, _ string) (model.App, error) {
	app, ok := e.apps[installable]
	if !ok {
		return model.App{}, fmt.Errorf("no app %q", installable)
	}
	return app, nil
}

func (e *fakeEvaluator) EvaluatePackageAttribute(_ context.Context, ref pkgref.Ref, attrPaths, prefixes []string, lock model.LockFlags) (model.Value, error) {
	e.locks = append(e.locks, lock)
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	for _, attr := range attrPaths {
		for _, prefix := range prefixes {
			key := ref.String() + "#" + prefix + attr
			e.lookups = append(e.lookups, key)
			if res, ok := e.bundlers[key]; ok {
				return &fakeFunction{fakeValue: fakeValue{kind: model.KindFunction}, result: res}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", model.ErrAttributeNotFound, strings.Join(attrPaths, ", "))
}

func (e *fakeEvaluator) CallFunction(_ context.Context, fn model.Value, args model.Record) (model.Value, error) {
	e.calls = append(e.calls, args)
	f, ok := fn.(*fakeFunction)
	if !ok {
		return nil, errors.New("not callable")
	}
	return f.result, nil
}

func (e *fakeEvaluator) CoerceToPath(_ context.Context, v model.Value) (string, error) {
	s, ok := v.Text()
	if !ok {
		return "", fmt.Errorf("cannot coerce a %s to a path", v.Kind())
	}
	return s, nil
}

func (e *fakeEvaluator) CurrentSystem() string { return e.system }

// fakeStore records builds and creates real symlinks under a temp dir.
type fakeStore struct {
	buildErr error
	rootErr  error
	outputs  map[model.StorePath]model.StorePath
	builds   []model.StorePath
	roots    map[string]model.StorePath
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		outputs: map[model.StorePath]model.StorePath{},
		roots:   map[string]model.StorePath{},
	}
}

func (s *fakeStore) ParseStorePath(p string) (model.StorePath, error) {
	if !strings.HasPrefix(p, "/store/") {
		return "", fmt.Errorf("path %q is not in the store", p)
	}
	return model.StorePath(p), nil
}

func (s *fakeStore) BuildPlan(_ context.Context, plan model.StorePath) (model.StorePath, error) {
	s.builds = append(s.builds, plan)
	if s.buildErr != nil {
		return "", s.buildErr
	}
	return s.outputs[plan], nil
}

func (s *fakeStore) AddPermRoot(_ context.Context, path model.StorePath, link string) (string, error) {
	if s.rootErr != nil {
		return "", s.rootErr
	}
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return "", err
	}
	if err := os.Symlink(string(path), link); err != nil {
		return "", err
	}
	s.roots[link] = path
	return link, nil
}

func (s *fakeStore) PrintPath(p model.StorePath) string { return string(p) }
