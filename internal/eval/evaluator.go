// SPDX-License-Identifier: MPL-2.0

package eval

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/appbundle/appbundle/internal/model"
	"github.com/appbundle/appbundle/internal/pkgref"
	"github.com/appbundle/appbundle/internal/store"
	"github.com/appbundle/appbundle/pkg/cueutil"
	"github.com/appbundle/appbundle/pkg/platform"
)

//go:embed package_schema.cue
var packageSchema []byte

var (
	// ErrNotAFunction is returned when CallFunction is given a non-function.
	ErrNotAFunction = errors.New("value is not a function")
	// ErrNotAnApp is returned when an installable does not name an app.
	ErrNotAnApp = errors.New("value is not an app")
	// ErrNotCoercible is returned when a value cannot be used as a path.
	ErrNotCoercible = errors.New("value cannot be coerced to a path")
)

type (
	// Fetcher materialises package references locally.
	Fetcher interface {
		Fetch(ctx context.Context, ref pkgref.Ref) (pkgref.Source, error)
	}

	// Store is the subset of the store the evaluator writes to.
	Store interface {
		AddPlan(p store.Plan) (plan, out model.StorePath, err error)
		BuildPlan(ctx context.Context, plan model.StorePath) (model.StorePath, error)
		AddArtifact(name, src string, refs []model.StorePath) (model.StorePath, error)
		QueryClosure(paths []model.StorePath) ([]model.StorePath, error)
		PathsIn(text string) []model.StorePath
	}

	// Option configures an Evaluator.
	Option func(*Evaluator)

	// Evaluator loads CUE packages and evaluates attributes in them.
	// Its methods serialise on an internal lock; Values it returns must not
	// be used concurrently.
	Evaluator struct {
		fetcher Fetcher
		store   Store
		system  string
		baseDir string

		mu     sync.Mutex
		cctx   *cue.Context
		schema cue.Value
		pkgs   map[string]*loadedPackage
	}

	// AttrNotFoundError reports that none of the candidate attribute paths
	// exist in a package. It wraps model.ErrAttributeNotFound.
	AttrNotFoundError struct {
		Ref   string
		Tried []string
	}

	loadedPackage struct {
		src   pkgref.Source
		value cue.Value
		files []string
	}
)

// Error implements the error interface.
func (e *AttrNotFoundError) Error() string {
	return fmt.Sprintf("none of the attributes %q exist in %s", e.Tried, e.Ref)
}

// Unwrap returns model.ErrAttributeNotFound for errors.Is() compatibility.
func (e *AttrNotFoundError) Unwrap() error { return model.ErrAttributeNotFound }

// WithSystem overrides the platform triple reported by CurrentSystem.
func WithSystem(system string) Option {
	return func(e *Evaluator) { e.system = system }
}

// WithBaseDir sets the directory relative references are resolved against.
func WithBaseDir(dir string) Option {
	return func(e *Evaluator) { e.baseDir = dir }
}

// New creates an evaluator fetching packages with fetcher and writing plans
// and sources to st.
func New(fetcher Fetcher, st Store, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		fetcher: fetcher,
		store:   st,
		system:  platform.Current().String(),
		cctx:    cuecontext.New(),
		pkgs:    make(map[string]*loadedPackage),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		e.baseDir = wd
	}

	schema := e.cctx.CompileBytes(packageSchema, cue.Filename("package_schema.cue"))
	if schema.Err() != nil {
		return nil, fmt.Errorf("internal error: failed to compile package schema: %w", schema.Err())
	}
	e.schema = schema.LookupPath(cue.ParsePath("#Package"))
	return e, nil
}

// CurrentSystem returns the platform triple packages are evaluated for.
func (e *Evaluator) CurrentSystem() string { return e.system }

// EvaluatePackageAttribute loads ref and returns the first attribute found
// among prefix+path, trying every prefix for each path in order.
func (e *Evaluator) EvaluatePackageAttribute(ctx context.Context, ref pkgref.Ref, attrPaths, prefixes []string, lock model.LockFlags) (model.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.evalAttr(ctx, ref, attrPaths, prefixes, lock)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (e *Evaluator) evalAttr(ctx context.Context, ref pkgref.Ref, attrPaths, prefixes []string, lock model.LockFlags) (*Value, error) {
	pkg, err := e.load(ctx, ref, lock)
	if err != nil {
		return nil, err
	}

	var tried []string
	for _, attr := range attrPaths {
		for _, prefix := range prefixes {
			full := prefix + attr
			tried = append(tried, full)
			p, err := cueutil.AttrPath(full)
			if err != nil {
				return nil, err
			}
			v := pkg.value.LookupPath(p)
			if !v.Exists() {
				continue
			}
			if err := v.Err(); err != nil {
				return nil, cueutil.FormatError(err, ref.String()+"#"+full)
			}
			slog.Debug("evaluated attribute", "ref", ref.String(), "attr", full)
			return e.wrap(v, pkg.src.Dir), nil
		}
	}
	return nil, &AttrNotFoundError{Ref: ref.String(), Tried: tried}
}

// load fetches and builds a package, caching it by source directory and
// revision.
func (e *Evaluator) load(ctx context.Context, ref pkgref.Ref, lock model.LockFlags) (*loadedPackage, error) {
	src, err := e.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", ref, err)
	}

	key := src.Dir + "@" + src.Rev
	pkg, ok := e.pkgs[key]
	if !ok {
		v, files, err := cueutil.BuildDir(e.cctx, src.Dir)
		if err != nil {
			return nil, err
		}
		pkg = &loadedPackage{src: src, value: v.Unify(e.schema), files: files}
		e.pkgs[key] = pkg
	}

	if lock.WriteLockFile && src.Ref.Kind == pkgref.KindPath {
		if err := writeLockFile(pkg); err != nil {
			slog.Warn("not writing lock file", "dir", src.Dir, "error", err)
		}
	}
	return pkg, nil
}

func (e *Evaluator) wrap(v cue.Value, dir string) *Value {
	return &Value{v: v, dir: dir, cctx: e.cctx}
}
