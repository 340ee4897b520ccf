// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"errors"

	"github.com/appbundle/appbundle/internal/model"
	"github.com/appbundle/appbundle/internal/pkgref"
)

const (
	// DefaultBundlerPackage is the bundler package used when none is given.
	DefaultBundlerPackage = "github:matthewbauer/nix-bundle"
	// DefaultBundlerEntry is the entry looked up when the spec has no fragment.
	DefaultBundlerEntry = "defaultBundler"
)

type (
	// BundlerSpec names a bundler: a package plus an entry inside it.
	BundlerSpec struct {
		Ref   pkgref.Ref
		Entry string
	}

	// BundlerReference parses and resolves bundler specs.
	BundlerReference struct {
		eval Evaluator
		// defaultPackage replaces an empty spec string.
		defaultPackage string
	}
)

// String renders the spec as "<ref>#<entry>".
func (s BundlerSpec) String() string {
	return s.Ref.String() + "#" + s.Entry
}

// AttrPrefix returns the namespace prefix under which entries are looked up.
func AttrPrefix(system string) string {
	return "bundlers." + system + "."
}

// NewBundlerReference creates a BundlerReference. An empty defaultPackage
// selects DefaultBundlerPackage.
func NewBundlerReference(eval Evaluator, defaultPackage string) *BundlerReference {
	if defaultPackage == "" {
		defaultPackage = DefaultBundlerPackage
	}
	return &BundlerReference{eval: eval, defaultPackage: defaultPackage}
}

// Parse splits spec at the fragment delimiter. Relative package paths are
// resolved against baseDir.
func (b *BundlerReference) Parse(spec, baseDir string) (BundlerSpec, error) {
	raw := spec
	if raw == "" {
		raw = b.defaultPackage
	}
	ref, entry, err := pkgref.ParseWithFragment(raw, baseDir)
	if err != nil {
		return BundlerSpec{}, &BundlerLoadError{Bundler: raw, Cause: err}
	}
	if entry == "" {
		entry = DefaultBundlerEntry
	}
	return BundlerSpec{Ref: ref, Entry: entry}, nil
}

// Resolve evaluates the bundler entry for system without writing lock files.
func (b *BundlerReference) Resolve(ctx context.Context, spec BundlerSpec, system string) (model.Value, error) {
	prefix := AttrPrefix(system)
	fn, err := b.eval.EvaluatePackageAttribute(ctx, spec.Ref, []string{spec.Entry}, []string{prefix},
		model.LockFlags{WriteLockFile: false})
	if err != nil {
		if errors.Is(err, model.ErrAttributeNotFound) {
			return nil, &BundlerNotFoundError{
				Bundler:  spec.String(),
				Entry:    spec.Entry,
				AttrPath: prefix + spec.Entry,
				Cause:    err,
			}
		}
		return nil, &BundlerLoadError{Bundler: spec.String(), Cause: err}
	}
	if fn.Kind() != model.KindFunction {
		return nil, &BundlerLoadError{
			Bundler: spec.String(),
			Cause:   errors.New("entry is a " + fn.Kind().String() + ", not a function"),
		}
	}
	return fn, nil
}
