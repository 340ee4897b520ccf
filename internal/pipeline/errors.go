// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"errors"
	"fmt"

	"github.com/appbundle/appbundle/internal/model"
)

var (
	// ErrResolution is the sentinel error wrapped by ResolutionError.
	ErrResolution = errors.New("application resolution failed")
	// ErrBundlerNotFound is the sentinel error wrapped by BundlerNotFoundError.
	ErrBundlerNotFound = errors.New("bundler not found")
	// ErrBundlerLoad is the sentinel error wrapped by BundlerLoadError.
	ErrBundlerLoad = errors.New("bundler could not be loaded")
	// ErrNotADerivation is the sentinel error wrapped by NotADerivationError.
	ErrNotADerivation = errors.New("bundler does not produce a derivation")
	// ErrMissingPlanField is the sentinel error wrapped by MissingPlanFieldError.
	ErrMissingPlanField = errors.New("bundler result has no plan path")
	// ErrMissingOutputField is the sentinel error wrapped by MissingOutputFieldError.
	ErrMissingOutputField = errors.New("bundler result has no output path")
	// ErrPathCoercion is the sentinel error wrapped by PathCoercionError.
	ErrPathCoercion = errors.New("value is not a store path")
	// ErrBuild is the sentinel error wrapped by BuildError.
	ErrBuild = errors.New("build failed")
	// ErrPublish is the sentinel error wrapped by PublishError.
	ErrPublish = errors.New("publishing the output link failed")
)

type (
	// ResolutionError is returned when an installable does not name a
	// runnable application.
	ResolutionError struct {
		Installable string
		Cause       error
	}

	// BundlerNotFoundError is returned when the bundler package has no entry
	// under the requested name.
	BundlerNotFoundError struct {
		Bundler string
		Entry   string
		// AttrPath is the attribute path that was looked up.
		AttrPath string
		Cause    error
	}

	// BundlerLoadError is returned when the bundler package cannot be fetched
	// or evaluated, or its entry cannot be called.
	BundlerLoadError struct {
		Bundler string
		Cause   error
	}

	// NotADerivationError is returned when the bundler result is not
	// plan-shaped.
	NotADerivationError struct {
		Bundler string
		// Got is the kind of value the bundler returned.
		Got model.Kind
	}

	// MissingPlanFieldError is returned when the bundler result lacks the
	// plan identifier field.
	MissingPlanFieldError struct {
		Bundler string
		Field   string
	}

	// MissingOutputFieldError is returned when the bundler result lacks the
	// expected output identifier field.
	MissingOutputFieldError struct {
		Bundler string
		Field   string
	}

	// PathCoercionError is returned when a result field cannot be turned into
	// a store path.
	PathCoercionError struct {
		Bundler string
		Field   string
		Cause   error
	}

	// BuildError is returned when the store cannot realise the plan.
	BuildError struct {
		Plan  model.StorePath
		Cause error
	}

	// PublishError is returned when the output link cannot be created.
	PublishError struct {
		Link  string
		Path  model.StorePath
		Cause error
	}
)

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve application %q: %v", e.Installable, e.Cause)
}

func (e *ResolutionError) Unwrap() []error { return []error{ErrResolution, e.Cause} }

func (e *BundlerNotFoundError) Error() string {
	return fmt.Sprintf("bundler '%s' has no entry %q (looked up %s)", e.Bundler, e.Entry, e.AttrPath)
}

func (e *BundlerNotFoundError) Unwrap() []error { return []error{ErrBundlerNotFound, e.Cause} }

func (e *BundlerLoadError) Error() string {
	return fmt.Sprintf("cannot load bundler '%s': %v", e.Bundler, e.Cause)
}

func (e *BundlerLoadError) Unwrap() []error { return []error{ErrBundlerLoad, e.Cause} }

func (e *NotADerivationError) Error() string {
	return fmt.Sprintf("the bundler '%s' does not produce a derivation (got %s)", e.Bundler, e.Got)
}

func (e *NotADerivationError) Unwrap() error { return ErrNotADerivation }

func (e *MissingPlanFieldError) Error() string {
	return fmt.Sprintf("the bundler '%s' does not produce a derivation: missing field %q", e.Bundler, e.Field)
}

func (e *MissingPlanFieldError) Unwrap() error { return ErrMissingPlanField }

func (e *MissingOutputFieldError) Error() string {
	return fmt.Sprintf("the bundler '%s' does not produce a derivation: missing field %q", e.Bundler, e.Field)
}

func (e *MissingOutputFieldError) Unwrap() error { return ErrMissingOutputField }

func (e *PathCoercionError) Error() string {
	return fmt.Sprintf("the bundler '%s' result field %q is not a store path: %v", e.Bundler, e.Field, e.Cause)
}

func (e *PathCoercionError) Unwrap() []error { return []error{ErrPathCoercion, e.Cause} }

func (e *BuildError) Error() string {
	return fmt.Sprintf("failed to build %s: %v", e.Plan, e.Cause)
}

func (e *BuildError) Unwrap() []error { return []error{ErrBuild, e.Cause} }

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to create output link %s -> %s: %v", e.Link, e.Path, e.Cause)
}

func (e *PublishError) Unwrap() []error { return []error{ErrPublish, e.Cause} }
