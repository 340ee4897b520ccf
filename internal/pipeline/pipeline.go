// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/appbundle/appbundle/internal/model"
)

const (
	// StageStart is the state before anything has been resolved.
	StageStart Stage = iota
	// StageAppResolved follows a successful application resolution.
	StageAppResolved
	// StageBundlerResolved follows a successful bundler lookup.
	StageBundlerResolved
	// StageInvoked follows a bundler call that yielded a valid plan.
	StageInvoked
	// StagePublished is the terminal success state.
	StagePublished
)

var stageNames = [...]string{"start", "app-resolved", "bundler-resolved", "invoked", "published"}

type (
	// Stage is a pipeline state.
	Stage int

	// PipelineError reports the first failure of a run. Stage is the last
	// state reached before the failure.
	PipelineError struct {
		Stage Stage
		Err   error
	}

	// Request describes one bundling run.
	Request struct {
		// Installable names the application, e.g. ".#myapp".
		Installable string
		// Bundler is the bundler spec; empty selects the default bundler.
		Bundler string
		// OutLink overrides the output link path. Empty means the base name
		// of the application's program, in the working directory.
		OutLink string
	}

	// Result describes a successful run.
	Result struct {
		App     model.App
		Bundler BundlerSpec
		Plan    model.StorePath
		Output  model.StorePath
		// Link is the absolute path of the output link.
		Link string
	}

	// Pipeline wires the four stages together.
	Pipeline struct {
		eval      Evaluator
		resolver  *ApplicationResolver
		bundlers  *BundlerReference
		invoker   *BundleInvoker
		publisher *BuildPublisher
		workDir   string
		logger    *slog.Logger
	}

	// Option configures a Pipeline.
	Option func(*Pipeline)
)

// String returns the stage name.
func (s Stage) String() string {
	if int(s) >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Error implements the error interface.
func (e *PipelineError) Error() string { return e.Err.Error() }

// Unwrap returns the stage error.
func (e *PipelineError) Unwrap() error { return e.Err }

// WithDefaultBundler sets the package used for an empty bundler spec.
func WithDefaultBundler(ref string) Option {
	return func(p *Pipeline) { p.bundlers = NewBundlerReference(p.eval, ref) }
}

// WithWorkDir sets the directory relative bundler refs and output links are
// resolved against. It defaults to the process working directory.
func WithWorkDir(dir string) Option {
	return func(p *Pipeline) { p.workDir = dir }
}

// WithLogger sets the logger. It defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline.
func New(eval Evaluator, store Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		eval:      eval,
		resolver:  NewApplicationResolver(eval),
		bundlers:  NewBundlerReference(eval, ""),
		invoker:   NewBundleInvoker(eval, store),
		publisher: NewBuildPublisher(store),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BundleApplication runs the pipeline once. On failure the returned error is
// a *PipelineError and no output link has been created.
func (p *Pipeline) BundleApplication(ctx context.Context, req Request) (*Result, error) {
	log := p.logger.With("run", uuid.NewString())
	stage := StageStart
	fail := func(err error) (*Result, error) {
		log.Debug("bundling failed", "stage", stage, "error", err)
		return nil, &PipelineError{Stage: stage, Err: err}
	}

	workDir, err := p.resolveWorkDir()
	if err != nil {
		return fail(&ResolutionError{Installable: req.Installable, Cause: err})
	}
	system := p.eval.CurrentSystem()
	if system == "" {
		return fail(&ResolutionError{Installable: req.Installable, Cause: errors.New("evaluator reported an empty system")})
	}

	app, err := p.resolver.Resolve(ctx, req.Installable, system)
	if err != nil {
		return fail(err)
	}
	stage = StageAppResolved
	log.Debug("resolved application", "installable", req.Installable, "program", app.Program, "context", len(app.Context))

	spec, err := p.bundlers.Parse(req.Bundler, workDir)
	if err != nil {
		return fail(err)
	}
	fn, err := p.bundlers.Resolve(ctx, spec, system)
	if err != nil {
		return fail(err)
	}
	stage = StageBundlerResolved
	log.Debug("resolved bundler", "bundler", spec.String(), "system", system)

	plan, out, err := p.invoker.Invoke(ctx, spec, fn, app, system)
	if err != nil {
		return fail(err)
	}
	stage = StageInvoked
	log.Debug("bundler produced plan", "plan", plan, "out", out)

	link := OutputLink(app, req.OutLink, workDir)
	abs, err := p.publisher.Publish(ctx, plan, out, link)
	if err != nil {
		return fail(err)
	}
	stage = StagePublished
	log.Debug("registered output link", "link", abs, "path", out)
	log.Info("bundle ready", "link", abs, "path", out)

	return &Result{
		App:     app,
		Bundler: spec,
		Plan:    plan,
		Output:  out,
		Link:    abs,
	}, nil
}

// OutputLink returns the link path for app: override when set, otherwise the
// program's base name. Relative paths are anchored at workDir.
func OutputLink(app model.App, override, workDir string) string {
	link := override
	if link == "" {
		link = app.ProgramName()
	}
	if !filepath.IsAbs(link) {
		link = filepath.Join(workDir, link)
	}
	return link
}

func (p *Pipeline) resolveWorkDir() (string, error) {
	if p.workDir != "" {
		return filepath.Abs(p.workDir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return wd, nil
}
