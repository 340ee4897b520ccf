// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/appbundle/appbundle/internal/config"
	"github.com/appbundle/appbundle/internal/eval"
	"github.com/appbundle/appbundle/internal/issue"
	"github.com/appbundle/appbundle/internal/pipeline"
	"github.com/appbundle/appbundle/internal/pkgref"
	"github.com/appbundle/appbundle/internal/store"
	"github.com/appbundle/appbundle/pkg/platform"
)

type (
	configPathContextKey struct{}
	verboseContextKey    struct{}

	// App wires CLI services and shared dependencies. Cobra handlers receive
	// an App and delegate through its service interfaces.
	App struct {
		Config  ConfigProvider
		Bundles BundleService
		Stores  StoreService
		stdout  io.Writer
		stderr  io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config  ConfigProvider
		Bundles BundleService
		Stores  StoreService
		Stdout  io.Writer
		Stderr  io.Writer
	}

	// BundleRequest captures the inputs of one `appbundle bundle` run.
	BundleRequest struct {
		// Installable names the application, e.g. ".#hello".
		Installable string
		// Bundler is the --bundler value; empty selects the configured default.
		Bundler string
		// OutLink is the -o/--out-link value.
		OutLink string
		// WorkDir anchors relative references and the output link.
		WorkDir string
		// ConfigPath is the explicit --config flag value.
		ConfigPath string
	}

	// BundleService runs the bundling pipeline.
	BundleService interface {
		Bundle(ctx context.Context, req BundleRequest) (*pipeline.Result, error)
	}

	// StoreService opens the configured store.
	StoreService interface {
		Open(ctx context.Context, configPath string) (*store.Store, *config.Config, error)
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	storeService struct {
		config ConfigProvider
	}

	bundleService struct {
		stores StoreService
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Stores == nil {
		deps.Stores = &storeService{config: deps.Config}
	}
	if deps.Bundles == nil {
		deps.Bundles = &bundleService{stores: deps.Stores}
	}

	return &App{
		Config:  deps.Config,
		Bundles: deps.Bundles,
		Stores:  deps.Stores,
		stdout:  deps.Stdout,
		stderr:  deps.Stderr,
	}, nil
}

// contextWithConfigPath attaches the explicit --config value to the context.
func contextWithConfigPath(ctx context.Context, configPath string) context.Context {
	return context.WithValue(ctx, configPathContextKey{}, configPath)
}

// configPathFromContext extracts the explicit config path from context.
func configPathFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(configPathContextKey{}).(string); ok {
		return v
	}
	return ""
}

// contextWithVerbose records the effective verbose setting.
func contextWithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, verboseContextKey{}, verbose)
}

func verboseFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(verboseContextKey{}).(bool)
	return v
}

// Open loads configuration and opens the store it names. The store builds
// for the configured system, or the host system when none is set.
func (s *storeService) Open(ctx context.Context, configPath string) (*store.Store, *config.Config, error) {
	cfg, err := s.config.Load(ctx, config.LoadOptions{ConfigFilePath: configPath})
	if err != nil {
		return nil, nil, newServiceError(err, issue.ConfigLoadFailedId, "")
	}

	system := cfg.System
	if system == "" {
		system = string(platform.Current())
	}
	st, err := store.Open(cfg.StoreDir, store.Options{System: system})
	if err != nil {
		wrapped := issue.NewErrorContext().
			WithOperation("open store").
			WithResource(cfg.StoreDir).
			WithSuggestion("Set store_dir or APPBUNDLE_STORE_DIR to a writable directory").
			Wrap(err).
			BuildError()
		return nil, nil, newServiceError(wrapped, issue.StoreUnavailableId, "")
	}
	return st, cfg, nil
}

// Bundle opens the store, builds the evaluator and pipeline, and runs one
// bundling request. Pipeline failures are returned as ServiceErrors carrying
// the matching issue catalog entry.
func (s *bundleService) Bundle(ctx context.Context, req BundleRequest) (*pipeline.Result, error) {
	st, cfg, err := s.stores.Open(ctx, req.ConfigPath)
	if err != nil {
		return nil, err
	}
	// Outputs are unrooted until the link is published.
	lock, err := st.LockShared()
	if err != nil {
		return nil, newServiceError(fmt.Errorf("failed to lock store: %w", err), issue.StoreUnavailableId, "")
	}
	defer lock.Release()

	fetcher := pkgref.NewFetcher(cfg.CacheDir, cfg.Registry)
	ev, err := eval.New(fetcher, st, eval.WithSystem(st.System()), eval.WithBaseDir(req.WorkDir))
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator: %w", err)
	}

	p := pipeline.New(ev, st,
		pipeline.WithDefaultBundler(cfg.DefaultBundler),
		pipeline.WithWorkDir(req.WorkDir),
		pipeline.WithLogger(slog.Default()),
	)
	res, err := p.BundleApplication(ctx, pipeline.Request{
		Installable: req.Installable,
		Bundler:     req.Bundler,
		OutLink:     req.OutLink,
	})
	if err != nil {
		return nil, newServiceError(err, classifyPipelineError(err), "")
	}
	return res, nil
}
