// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"

	"github.com/appbundle/appbundle/internal/model"
	"github.com/appbundle/appbundle/internal/pkgref"
)

type (
	// Evaluator is the resolution/evaluation service.
	Evaluator interface {
		// ResolveApplication turns an installable string into a runnable app.
		ResolveApplication(ctx context.Context, installable, system string) (model.App, error)
		// EvaluatePackageAttribute loads ref and returns the first attribute
		// found among prefix+path for every prefix and path. Absent attributes
		// are reported with an error wrapping model.ErrAttributeNotFound.
		EvaluatePackageAttribute(ctx context.Context, ref pkgref.Ref, attrPaths, prefixes []string, lock model.LockFlags) (model.Value, error)
		// CallFunction applies fn to the argument record.
		CallFunction(ctx context.Context, fn model.Value, args model.Record) (model.Value, error)
		// CoerceToPath converts a value to an absolute filesystem path.
		CoerceToPath(ctx context.Context, v model.Value) (string, error)
		// CurrentSystem returns the platform triple, e.g. "x86_64-linux".
		CurrentSystem() string
	}

	// Store is the content-addressed store and build service.
	Store interface {
		// ParseStorePath checks that p names an entry in the store namespace.
		ParseStorePath(p string) (model.StorePath, error)
		// BuildPlan realises a plan and returns its output path.
		BuildPlan(ctx context.Context, plan model.StorePath) (model.StorePath, error)
		// AddPermRoot points link at path and registers it as a GC root.
		// It returns the absolute link path.
		AddPermRoot(ctx context.Context, path model.StorePath, link string) (string, error)
		// PrintPath renders a store path for display.
		PrintPath(p model.StorePath) string
	}
)
