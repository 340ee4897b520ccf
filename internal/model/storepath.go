// SPDX-License-Identifier: MPL-2.0

package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// ErrInvalidStorePath is the sentinel error wrapped by InvalidStorePathError.
var ErrInvalidStorePath = errors.New("invalid store path")

type (
	// StorePath is an absolute path naming a content-addressed entry in the
	// store. Plans and built artifacts are both store paths.
	StorePath string

	// InvalidStorePathError is returned when a StorePath is empty or relative.
	// It wraps ErrInvalidStorePath for errors.Is() compatibility.
	InvalidStorePathError struct {
		Value StorePath
	}
)

// Error implements the error interface.
func (e *InvalidStorePathError) Error() string {
	return fmt.Sprintf("invalid store path %q (must be an absolute path)", e.Value)
}

// Unwrap returns ErrInvalidStorePath for errors.Is() compatibility.
func (e *InvalidStorePathError) Unwrap() error { return ErrInvalidStorePath }

// String returns the path text.
func (p StorePath) String() string { return string(p) }

// Validate returns an error if the path is empty or not absolute.
func (p StorePath) Validate() error {
	if p == "" || !filepath.IsAbs(string(p)) {
		return &InvalidStorePathError{Value: p}
	}
	return nil
}

// Base returns the last element of the path, e.g. "<hash>-hello".
func (p StorePath) Base() string { return filepath.Base(string(p)) }

// IsPlan reports whether the path names a build plan rather than an artifact.
func (p StorePath) IsPlan() bool { return strings.HasSuffix(string(p), PlanExt) }

// PlanExt is the file suffix carried by every plan in the store.
const PlanExt = ".plan.toml"

// SortedPaths returns a sorted, de-duplicated copy of paths.
func SortedPaths(paths []StorePath) []StorePath {
	out := slices.Clone(paths)
	slices.Sort(out)
	return slices.Compact(out)
}
