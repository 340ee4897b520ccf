// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/appbundle/appbundle/internal/model"
)

const (
	testProgram = "/store/abc-myapp/bin/myapp"
	testPlan    = model.StorePath("/store/p1-myapp-bundle" + model.PlanExt)
	testOut     = model.StorePath("/store/o1-myapp-bundle")
)

type harness struct {
	eval    *fakeEvaluator
	store   *fakeStore
	workDir string
	p       *Pipeline
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		eval:    newFakeEvaluator(),
		store:   newFakeStore(),
		workDir: t.TempDir(),
	}
	h.eval.apps["myapp"] = model.App{
		Program: testProgram,
		Context: []model.StorePath{"/store/abc-myapp", "/store/def-libc"},
	}
	h.store.outputs[testPlan] = testOut
	opts = append([]Option{WithWorkDir(h.workDir)}, opts...)
	h.p = New(h.eval, h.store, opts...)
	return h
}

func (h *harness) defaultBundlerKey() string {
	return "github:matthewbauer/nix-bundle#" + AttrPrefix(testSystem) + DefaultBundlerEntry
}

func TestBundleApplication_DefaultBundlerAndLink(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.eval.bundlers[h.defaultBundlerKey()] = derivation(string(testPlan), string(testOut))

	res, err := h.p.BundleApplication(context.Background(), Request{Installable: "myapp"})
	if err != nil {
		t.Fatalf("BundleApplication() error: %v", err)
	}

	wantLink := filepath.Join(h.workDir, "myapp")
	if res.Link != wantLink {
		t.Errorf("Link = %q, want %q", res.Link, wantLink)
	}
	target, err := os.Readlink(wantLink)
	if err != nil {
		t.Fatalf("link not created: %v", err)
	}
	if target != string(testOut) {
		t.Errorf("link target = %q, want %q", target, testOut)
	}
	if res.Bundler.Entry != DefaultBundlerEntry {
		t.Errorf("bundler entry = %q", res.Bundler.Entry)
	}
	if !slices.Equal(h.store.builds, []model.StorePath{testPlan}) {
		t.Errorf("builds = %v", h.store.builds)
	}
	if res.Plan != testPlan || res.Output != testOut {
		t.Errorf("Plan/Output = %s/%s", res.Plan, res.Output)
	}
}

func TestBundleApplication_CallingConvention(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.eval.bundlers[h.defaultBundlerKey()] = derivation(string(testPlan), string(testOut))

	if _, err := h.p.BundleApplication(context.Background(), Request{Installable: "myapp"}); err != nil {
		t.Fatal(err)
	}

	if len(h.eval.calls) != 1 {
		t.Fatalf("expected one bundler call, got %d", len(h.eval.calls))
	}
	args := h.eval.calls[0]
	if args["program"].Text != testProgram {
		t.Errorf("program = %q", args["program"].Text)
	}
	wantCtx := []model.StorePath{"/store/abc-myapp", "/store/def-libc"}
	if !slices.Equal(args["program"].DependsOn, wantCtx) {
		t.Errorf("program context = %v, want %v", args["program"].DependsOn, wantCtx)
	}
	if args["system"].Text != testSystem || len(args["system"].DependsOn) != 0 {
		t.Errorf("system = %+v", args["system"])
	}
	for _, lock := range h.eval.locks {
		if lock.WriteLockFile {
			t.Error("bundler resolution must not write lock files")
		}
	}
}

func TestBundleApplication_OutLinkOverride(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.eval.bundlers[h.defaultBundlerKey()] = derivation(string(testPlan), string(testOut))

	res, err := h.p.BundleApplication(context.Background(), Request{Installable: "myapp", OutLink: "out/app-bundle"})
	if err != nil {
		t.Fatalf("BundleApplication() error: %v", err)
	}
	want := filepath.Join(h.workDir, "out", "app-bundle")
	if res.Link != want {
		t.Errorf("Link = %q, want %q", res.Link, want)
	}
	if _, err := os.Lstat(filepath.Join(h.workDir, "myapp")); !os.IsNotExist(err) {
		t.Error("default link must not be created when overridden")
	}
}

func TestBundleApplication_NamedEntry(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	local := filepath.Join(h.workDir, "local")
	h.eval.bundlers["path:"+local+"#"+AttrPrefix(testSystem)+"myBundler"] = derivation(string(testPlan), string(testOut))

	res, err := h.p.BundleApplication(context.Background(), Request{Installable: "myapp", Bundler: "./local#myBundler"})
	if err != nil {
		t.Fatalf("BundleApplication() error: %v", err)
	}
	if res.Bundler.Entry != "myBundler" {
		t.Errorf("entry = %q, want myBundler", res.Bundler.Entry)
	}
	if !slices.Equal(h.eval.lookups, []string{"path:" + local + "#bundlers.x86_64-linux.myBundler"}) {
		t.Errorf("lookups = %v", h.eval.lookups)
	}
}

func TestBundleApplication_BundlerNotFound(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.p.BundleApplication(context.Background(), Request{Installable: "myapp", Bundler: "./local#myBundler"})
	var nf *BundlerNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected BundlerNotFoundError, got %v", err)
	}
	if nf.Entry != "myBundler" {
		t.Errorf("Entry = %q", nf.Entry)
	}
	if nf.AttrPath != "bundlers.x86_64-linux.myBundler" {
		t.Errorf("AttrPath = %q", nf.AttrPath)
	}
	assertStage(t, err, StageAppResolved)
	assertNoLink(t, h)
}

func TestBundleApplication_BundlerLoadError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.eval.loadErr = errors.New("clone failed")

	_, err := h.p.BundleApplication(context.Background(), Request{Installable: "myapp"})
	if !errors.Is(err, ErrBundlerLoad) {
		t.Fatalf("expected ErrBundlerLoad, got %v", err)
	}
	if errors.Is(err, ErrBundlerNotFound) {
		t.Error("load failure must not be reported as not found")
	}
}

func TestBundleApplication_ResolutionError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.p.BundleApplication(context.Background(), Request{Installable: "nope"})
	var re *ResolutionError
	if !errors.As(err, &re) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if re.Installable != "nope" {
		t.Errorf("Installable = %q", re.Installable)
	}
	assertStage(t, err, StageStart)
}

func TestBundleApplication_InvalidResults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result model.Value
		want   error
	}{
		{"plain string", str("/store/abc"), ErrNotADerivation},
		{"struct without type", &fakeValue{kind: model.KindStruct}, ErrNotADerivation},
		{"missing plan field", derivation("", string(testOut)), ErrMissingPlanField},
		{"missing output field", derivation(string(testPlan), ""), ErrMissingOutputField},
		{"plan outside store", derivation("/tmp/x"+model.PlanExt, string(testOut)), ErrPathCoercion},
		{"plan is an artifact", derivation("/store/p1-not-a-plan", string(testOut)), ErrPathCoercion},
		{"output not a string", func() model.Value {
			d := derivation(string(testPlan), "")
			d.fields[OutputField] = &fakeValue{kind: model.KindList}
			return d
		}(), ErrPathCoercion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.eval.bundlers[h.defaultBundlerKey()] = tt.result

			_, err := h.p.BundleApplication(context.Background(), Request{Installable: "myapp"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			assertStage(t, err, StageBundlerResolved)
			if len(h.store.builds) != 0 {
				t.Error("no build may be attempted for an invalid result")
			}
			assertNoLink(t, h)
		})
	}
}

func TestBundleApplication_NotADerivationNamesBundler(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.eval.bundlers[h.defaultBundlerKey()] = str("hello")

	_, err := h.p.BundleApplication(context.Background(), Request{Installable: "myapp"})
	var nd *NotADerivationError
	if !errors.As(err, &nd) {
		t.Fatalf("expected NotADerivationError, got %v", err)
	}
	if nd.Bundler != "github:matthewbauer/nix-bundle#defaultBundler" {
		t.Errorf("Bundler = %q", nd.Bundler)
	}
	if nd.Got != model.KindString {
		t.Errorf("Got = %s", nd.Got)
	}
}

func TestBundleApplication_BuildError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.eval.bundlers[h.defaultBundlerKey()] = derivation(string(testPlan), string(testOut))
	h.store.buildErr = errors.New("builder exited with status 1")

	_, err := h.p.BundleApplication(context.Background(), Request{Installable: "myapp"})
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if be.Plan != testPlan {
		t.Errorf("Plan = %s", be.Plan)
	}
	assertStage(t, err, StageInvoked)
	assertNoLink(t, h)
}

func TestBundleApplication_OutputMismatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.eval.bundlers[h.defaultBundlerKey()] = derivation(string(testPlan), "/store/zz-other")

	_, err := h.p.BundleApplication(context.Background(), Request{Installable: "myapp"})
	if !errors.Is(err, ErrBuild) {
		t.Fatalf("expected ErrBuild, got %v", err)
	}
	assertNoLink(t, h)
}

func TestBundleApplication_PublishError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.eval.bundlers[h.defaultBundlerKey()] = derivation(string(testPlan), string(testOut))
	h.store.rootErr = errors.New("read-only file system")

	_, err := h.p.BundleApplication(context.Background(), Request{Installable: "myapp"})
	var pe *PublishError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PublishError, got %v", err)
	}
	if pe.Link != filepath.Join(h.workDir, "myapp") {
		t.Errorf("Link = %q", pe.Link)
	}
}

func TestBundleApplication_EmptySystem(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.eval.system = ""

	_, err := h.p.BundleApplication(context.Background(), Request{Installable: "myapp"})
	var re *ResolutionError
	if !errors.As(err, &re) || !errors.Is(err, ErrResolution) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if re.Installable != "myapp" {
		t.Errorf("Installable = %q", re.Installable)
	}
	assertStage(t, err, StageStart)
}

// Not parallel: it swaps the default logger.
func TestBundleApplication_LogsThroughRunLogger(t *testing.T) {
	var runLog, defaultLog bytes.Buffer
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&defaultLog, opts)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := newHarness(t, WithLogger(slog.New(slog.NewTextHandler(&runLog, opts))))
	h.eval.bundlers[h.defaultBundlerKey()] = derivation(string(testPlan), string(testOut))

	if _, err := h.p.BundleApplication(context.Background(), Request{Installable: "myapp"}); err != nil {
		t.Fatal(err)
	}
	if defaultLog.Len() != 0 {
		t.Errorf("logged outside the run logger:\n%s", defaultLog.String())
	}
	if !strings.Contains(runLog.String(), `msg="registered output link"`) {
		t.Errorf("missing link registration line:\n%s", runLog.String())
	}
	for _, line := range strings.Split(strings.TrimSpace(runLog.String()), "\n") {
		if !strings.Contains(line, " run=") {
			t.Errorf("line without run id: %s", line)
		}
	}
}

func TestWithDefaultBundler(t *testing.T) {
	t.Parallel()
	h := newHarness(t, WithDefaultBundler("path:/opt/bundlers"))
	h.eval.bundlers["path:/opt/bundlers#"+AttrPrefix(testSystem)+DefaultBundlerEntry] = derivation(string(testPlan), string(testOut))

	res, err := h.p.BundleApplication(context.Background(), Request{Installable: "myapp"})
	if err != nil {
		t.Fatalf("BundleApplication() error: %v", err)
	}
	if res.Bundler.String() != "path:/opt/bundlers#defaultBundler" {
		t.Errorf("bundler = %s", res.Bundler)
	}
}

func TestOutputLink(t *testing.T) {
	t.Parallel()

	app := model.App{Program: testProgram}
	tests := []struct {
		override string
		want     string
	}{
		{"", "/work/myapp"},
		{"out/app-bundle", "/work/out/app-bundle"},
		{"/abs/link", "/abs/link"},
	}
	for _, tt := range tests {
		if got := OutputLink(app, tt.override, "/work"); got != filepath.FromSlash(tt.want) {
			t.Errorf("OutputLink(%q) = %q, want %q", tt.override, got, tt.want)
		}
	}
}

func TestStage_String(t *testing.T) {
	t.Parallel()

	if StageBundlerResolved.String() != "bundler-resolved" {
		t.Errorf("got %q", StageBundlerResolved.String())
	}
	if Stage(42).String() != "stage(42)" {
		t.Errorf("got %q", Stage(42).String())
	}
}

func assertStage(t *testing.T, err error, want Stage) {
	t.Helper()
	var pe *PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PipelineError, got %T", err)
	}
	if pe.Stage != want {
		t.Errorf("Stage = %s, want %s", pe.Stage, want)
	}
}

func assertNoLink(t *testing.T, h *harness) {
	t.Helper()
	entries, err := os.ReadDir(h.workDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("work dir should be untouched, found %d entries", len(entries))
	}
	if len(h.store.roots) != 0 {
		t.Errorf("no roots may be registered, got %v", h.store.roots)
	}
}
