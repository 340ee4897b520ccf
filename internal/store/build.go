// SPDX-License-Identifier: MPL-2.0

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/appbundle/appbundle/internal/model"
)

var (
	// ErrBuilderFailed is returned when a builder script exits non-zero.
	ErrBuilderFailed = errors.New("builder failed")
	// ErrNoOutput is returned when a builder exits cleanly without creating $out.
	ErrNoOutput = errors.New("builder did not produce its output")
	// ErrSystemMismatch is returned when a plan targets another platform.
	ErrSystemMismatch = errors.New("plan requires a different system")
)

// BuildPlan realises plan, building its input plans first, and returns the
// output path. Outputs that are already valid are returned without work.
func (s *Store) BuildPlan(ctx context.Context, plan model.StorePath) (model.StorePath, error) {
	p, err := s.ReadPlan(plan)
	if err != nil {
		return "", err
	}
	if s.IsValidPath(p.Output) {
		return p.Output, nil
	}
	if s.system != "" && p.System != s.system {
		return "", fmt.Errorf("%w: %s needs %s, store builds %s", ErrSystemMismatch, plan, p.System, s.system)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, input := range p.InputPlans {
		g.Go(func() error {
			_, err := s.BuildPlan(gctx, input)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("building inputs of %s: %w", plan, err)
	}

	lock := s.buildLock(p.Output)
	lock.Lock()
	defer lock.Unlock()

	lk, err := s.lock.acquire(false)
	if err != nil {
		return "", err
	}
	defer lk.Release()

	// Another build of the same plan may have finished while we waited.
	if s.IsValidPath(p.Output) {
		return p.Output, nil
	}

	if err := s.realise(ctx, plan, p); err != nil {
		if rmErr := os.RemoveAll(string(p.Output)); rmErr != nil {
			slog.Warn("failed to remove partial output", "path", p.Output, "error", rmErr)
		}
		return "", err
	}
	return p.Output, nil
}

func (s *Store) realise(ctx context.Context, plan model.StorePath, p *Plan) error {
	inputs, err := s.inputClosure(p)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(string(p.Output)); err != nil {
		return fmt.Errorf("failed to clear stale output: %w", err)
	}
	buildDir, err := os.MkdirTemp(s.tmpDir, "build-"+p.Name+"-")
	if err != nil {
		return fmt.Errorf("failed to create build directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(buildDir) }()

	logPath := filepath.Join(s.logDir, p.Output.Base()+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create build log: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	var tail tailBuffer
	w := io.MultiWriter(logFile, &tail)

	slog.Debug("building", "plan", plan, "out", p.Output, "inputs", len(inputs))
	if err := s.runBuilder(ctx, p, buildDir, w); err != nil {
		return fmt.Errorf("%s: %w (log: %s)\n%s", plan, err, logPath, tail.String())
	}
	if _, err := os.Lstat(string(p.Output)); err != nil {
		return fmt.Errorf("%w: %s (log: %s)", ErrNoOutput, p.Output, logPath)
	}

	refs, err := scanReferences(string(p.Output), inputs)
	if err != nil {
		return fmt.Errorf("failed to scan references of %s: %w", p.Output, err)
	}
	return s.registerValidPath(PathInfo{Path: p.Output, Plan: plan, References: refs})
}

// inputClosure returns the runtime closure of everything the builder may see.
func (s *Store) inputClosure(p *Plan) ([]model.StorePath, error) {
	roots := slices.Clone(p.InputSrcs)
	for _, ip := range p.InputPlans {
		in, err := s.ReadPlan(ip)
		if err != nil {
			return nil, err
		}
		roots = append(roots, in.Output)
	}
	return s.QueryClosure(roots)
}

func (s *Store) runBuilder(ctx context.Context, p *Plan, buildDir string, w io.Writer) error {
	prog, err := syntax.NewParser().Parse(strings.NewReader(p.Builder), p.Name+"-builder")
	if err != nil {
		return fmt.Errorf("failed to parse builder: %w", err)
	}

	env := map[string]string{
		"PATH": os.Getenv("PATH"),
		"HOME": "/homeless-shelter",
	}
	for k, v := range p.Env {
		env[k] = v
	}
	env["out"] = string(p.Output)
	env["TMPDIR"] = buildDir
	env["system"] = p.System

	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	slices.Sort(pairs)

	runner, err := interp.New(
		interp.Dir(buildDir),
		interp.Env(expand.ListEnviron(pairs...)),
		interp.StdIO(nil, w, w),
	)
	if err != nil {
		return fmt.Errorf("failed to create interpreter: %w", err)
	}

	if err := runner.Run(ctx, prog); err != nil {
		var status interp.ExitStatus
		if errors.As(err, &status) {
			return fmt.Errorf("%w: exit status %d", ErrBuilderFailed, uint8(status))
		}
		return fmt.Errorf("%w: %w", ErrBuilderFailed, err)
	}
	return nil
}

// scanReferences returns the candidates whose hash part occurs in any file
// or symlink target under root.
func scanReferences(root string, candidates []model.StorePath) ([]model.StorePath, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	pending := make(map[string]model.StorePath, len(candidates))
	for _, c := range candidates {
		pending[c.Base()[:hashLen]] = c
	}
	var found []model.StorePath

	match := func(data []byte) {
		for h, c := range pending {
			if bytes.Contains(data, []byte(h)) {
				found = append(found, c)
				delete(pending, h)
			}
		}
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return filepath.SkipAll
		}
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			match([]byte(target))
		case d.Type().IsRegular():
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			match(data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return model.SortedPaths(found), nil
}

// tailBuffer keeps the last few kilobytes written to it.
type tailBuffer struct {
	buf []byte
}

const tailSize = 4096

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > tailSize {
		t.buf = t.buf[len(t.buf)-tailSize:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return strings.TrimRight(string(t.buf), "\n") }
