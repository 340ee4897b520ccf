// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/appbundle/appbundle/internal/issue"
	"github.com/appbundle/appbundle/internal/pipeline"
	"github.com/appbundle/appbundle/internal/pkgref"
)

// ServiceError is an error that carries optional rendering information for
// the CLI layer. Always create via newServiceError.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID is the optional issue catalog ID for rendering help text.
	IssueID issue.Id
	// StyledMessage is the optional pre-rendered styled error text.
	StyledMessage string
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{
		Err:           err,
		IssueID:       issueID,
		StyledMessage: styledMessage,
	}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// renderServiceError prints any styled message first, then the issue help
// section rendered with the given glamour style.
func renderServiceError(stderr io.Writer, svcErr *ServiceError, style string) {
	if svcErr == nil {
		return
	}

	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}

	if svcErr.IssueID == 0 {
		return
	}

	if catalogEntry := issue.Get(svcErr.IssueID); catalogEntry != nil {
		rendered, renderErr := catalogEntry.Render(style)
		if renderErr != nil {
			slog.Warn("failed to render issue catalog entry", "issueID", svcErr.IssueID, "error", renderErr)
		} else {
			fmt.Fprint(stderr, rendered)
		}
	}
}

// classifyPipelineError maps a bundling failure to the catalog entry that
// explains it. Fetch failures win over the stage that triggered them.
func classifyPipelineError(err error) issue.Id {
	switch {
	case errors.Is(err, pipeline.ErrPublish):
		return issue.OutputLinkFailedId
	case errors.Is(err, pipeline.ErrBuild):
		return issue.BuildFailedId
	case errors.Is(err, pipeline.ErrNotADerivation),
		errors.Is(err, pipeline.ErrMissingPlanField),
		errors.Is(err, pipeline.ErrMissingOutputField),
		errors.Is(err, pipeline.ErrPathCoercion):
		return issue.InvalidBundlerResultId
	case errors.Is(err, pkgref.ErrNotFound), errors.Is(err, pkgref.ErrUnresolved):
		return issue.PackageFetchFailedId
	case errors.Is(err, pipeline.ErrBundlerNotFound):
		return issue.BundlerNotFoundId
	case errors.Is(err, pipeline.ErrBundlerLoad):
		return issue.BundlerLoadFailedId
	case errors.Is(err, pipeline.ErrResolution):
		return issue.InstallableNotFoundId
	default:
		return 0
	}
}
