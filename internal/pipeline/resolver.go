// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"errors"

	"github.com/appbundle/appbundle/internal/model"
)

// ApplicationResolver turns an application identifier into a resolved app.
type ApplicationResolver struct {
	eval Evaluator
}

// NewApplicationResolver creates a resolver backed by eval.
func NewApplicationResolver(eval Evaluator) *ApplicationResolver {
	return &ApplicationResolver{eval: eval}
}

// Resolve makes a single attempt to resolve installable for system.
func (r *ApplicationResolver) Resolve(ctx context.Context, installable, system string) (model.App, error) {
	app, err := r.eval.ResolveApplication(ctx, installable, system)
	if err != nil {
		return model.App{}, &ResolutionError{Installable: installable, Cause: err}
	}
	if app.Program == "" {
		return model.App{}, &ResolutionError{Installable: installable, Cause: errors.New("application has no program")}
	}
	return app, nil
}
