// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"fmt"

	"github.com/appbundle/appbundle/internal/model"
)

// BuildPublisher realises a plan and roots its output under a link.
type BuildPublisher struct {
	store Store
}

// NewBuildPublisher creates a publisher backed by store.
func NewBuildPublisher(store Store) *BuildPublisher {
	return &BuildPublisher{store: store}
}

// Publish builds plan and points link at out. It returns the absolute link
// path. Nothing is linked unless the build succeeded and produced out.
func (p *BuildPublisher) Publish(ctx context.Context, plan, out model.StorePath, link string) (string, error) {
	built, err := p.store.BuildPlan(ctx, plan)
	if err != nil {
		return "", &BuildError{Plan: plan, Cause: err}
	}
	if built != out {
		return "", &BuildError{
			Plan:  plan,
			Cause: fmt.Errorf("plan produced %s, bundler promised %s", p.store.PrintPath(built), p.store.PrintPath(out)),
		}
	}

	abs, err := p.store.AddPermRoot(ctx, out, link)
	if err != nil {
		return "", &PublishError{Link: link, Path: out, Cause: err}
	}
	return abs, nil
}
