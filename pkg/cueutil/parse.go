// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/parser"
)

// ErrNoFiles is returned by BuildDir when a directory holds no CUE files.
var ErrNoFiles = errors.New("no .cue files found")

// ParseResult contains the result of a successful CUE parse operation.
type ParseResult[T any] struct {
	// Value is the decoded Go struct.
	Value *T

	// Unified is the unified CUE value.
	Unified cue.Value
}

// ParseAndDecode compiles data, unifies it with the definition at schemaPath
// in schema, validates the result and decodes it into T.
func ParseAndDecode[T any](schema, data []byte, schemaPath string, opts ...Option) (*ParseResult[T], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	filename := o.filename
	if filename == "" {
		filename = "<input>"
	}

	if err := CheckFileSize(data, o.maxFileSize, filename); err != nil {
		return nil, err
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileBytes(schema)
	if schemaValue.Err() != nil {
		return nil, fmt.Errorf("internal error: failed to compile schema: %w", schemaValue.Err())
	}
	schemaRoot := schemaValue.LookupPath(cue.ParsePath(schemaPath))
	if schemaRoot.Err() != nil {
		return nil, fmt.Errorf("internal error: schema definition %s not found: %w", schemaPath, schemaRoot.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(filename))
	if userValue.Err() != nil {
		return nil, FormatError(userValue.Err(), filename)
	}

	unified := schemaRoot.Unify(userValue)
	if err := unified.Validate(cue.Concrete(o.concrete)); err != nil {
		return nil, FormatError(err, filename)
	}

	var result T
	if err := unified.Decode(&result); err != nil {
		return nil, FormatError(err, filename)
	}
	return &ParseResult[T]{Value: &result, Unified: unified}, nil
}

// BuildDir parses the root-level *.cue files of dir as one package and
// builds them in ctx. Files are merged in name order; their package clauses
// must agree. It returns the built value and the file names that were read.
func BuildDir(ctx *cue.Context, dir string, opts ...Option) (cue.Value, []string, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return cue.Value{}, nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".cue") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return cue.Value{}, nil, fmt.Errorf("%s: %w", dir, ErrNoFiles)
	}
	slices.Sort(names)

	merged := &ast.File{Filename: filepath.Join(dir, names[0])}
	var (
		pkgName string
		imports []ast.Decl
		body    []ast.Decl
	)
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return cue.Value{}, nil, err
		}
		if err := CheckFileSize(data, o.maxFileSize, path); err != nil {
			return cue.Value{}, nil, err
		}
		f, err := parser.ParseFile(path, data)
		if err != nil {
			return cue.Value{}, nil, FormatError(err, path)
		}
		if p := f.PackageName(); p != "" {
			if pkgName != "" && p != pkgName {
				return cue.Value{}, nil, fmt.Errorf("%s: package %q does not match %q", path, p, pkgName)
			}
			pkgName = p
		}
		for _, d := range f.Decls {
			switch d.(type) {
			case *ast.Package:
			case *ast.ImportDecl:
				imports = append(imports, d)
			default:
				body = append(body, d)
			}
		}
	}
	if pkgName != "" {
		merged.Decls = append(merged.Decls, &ast.Package{Name: ast.NewIdent(pkgName)})
	}
	merged.Decls = append(merged.Decls, imports...)
	merged.Decls = append(merged.Decls, body...)

	v := ctx.BuildFile(merged)
	if v.Err() != nil {
		return cue.Value{}, nil, FormatError(v.Err(), dir)
	}
	return v, names, nil
}
