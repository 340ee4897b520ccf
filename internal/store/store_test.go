// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/appbundle/appbundle/internal/model"
)

const testSystem = "x86_64-linux"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), Options{System: testSystem})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func mustAddPlan(t *testing.T, s *Store, p Plan) (plan, out model.StorePath) {
	t.Helper()
	plan, out, err := s.AddPlan(p)
	if err != nil {
		t.Fatalf("AddPlan(%s) error = %v", p.Name, err)
	}
	return plan, out
}

func TestHashParts(t *testing.T) {
	t.Parallel()

	a := hashParts("x", "y")
	if len(a) != hashLen {
		t.Fatalf("hash length = %d, want %d", len(a), hashLen)
	}
	if a != hashParts("x", "y") {
		t.Error("hashParts is not deterministic")
	}
	if a == hashParts("xy") {
		t.Error("part boundaries must affect the hash")
	}
	for _, r := range a {
		if !strings.ContainsRune("0123456789abcdfghijklmnpqrsvwxyz", r) {
			t.Errorf("unexpected character %q in %s", r, a)
		}
	}
}

func TestValidName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"hello", true},
		{"hello-1.0", true},
		{"app.plan.toml", true},
		{"", false},
		{".hidden", false},
		{"has space", false},
		{"slash/name", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ValidName(tt.name); got != tt.want {
				t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestStore_ParseStorePath(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	h := hashParts("p")

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"entry", filepath.Join(s.Dir(), h+"-hello"), false},
		{"nested", filepath.Join(s.Dir(), h+"-hello", "bin"), true},
		{"outside", "/tmp/" + h + "-hello", true},
		{"short hash", filepath.Join(s.Dir(), "abc-hello"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := s.ParseStorePath(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStorePath(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrNotInStore) {
				t.Errorf("error should wrap ErrNotInStore, got %v", err)
			}
		})
	}
}

func TestStore_ToStorePathAndPathsIn(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	entry := filepath.Join(s.Dir(), hashParts("a")+"-app")
	other := filepath.Join(s.Dir(), hashParts("b")+"-lib")

	got, err := s.ToStorePath(entry + "/bin/app")
	if err != nil {
		t.Fatalf("ToStorePath() error = %v", err)
	}
	if string(got) != entry {
		t.Errorf("ToStorePath() = %s, want %s", got, entry)
	}
	if _, err := s.ToStorePath(s.Dir()); !errors.Is(err, ErrNotInStore) {
		t.Errorf("store dir itself should not be a store path, err = %v", err)
	}

	text := "exec " + entry + "/bin/app --lib=" + other + "/lib " + entry
	paths := s.PathsIn(text)
	want := model.SortedPaths([]model.StorePath{model.StorePath(entry), model.StorePath(other)})
	if !slices.Equal(paths, want) {
		t.Errorf("PathsIn() = %v, want %v", paths, want)
	}
}

func TestStore_AddPlanDeterministic(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	p := Plan{Name: "hello", System: testSystem, Builder: `echo hi > "$out"`, Env: map[string]string{"B": "2", "A": "1"}}
	plan1, out1 := mustAddPlan(t, s, p)
	plan2, out2 := mustAddPlan(t, s, Plan{Name: "hello", System: testSystem, Builder: `echo hi > "$out"`, Env: map[string]string{"A": "1", "B": "2"}})

	if plan1 != plan2 || out1 != out2 {
		t.Errorf("identical plans produced different paths: %s/%s vs %s/%s", plan1, out1, plan2, out2)
	}
	if !plan1.IsPlan() {
		t.Errorf("plan path %s lacks the plan extension", plan1)
	}
	if !s.IsValidPath(plan1) {
		t.Error("plan should be registered valid")
	}
	if s.IsValidPath(out1) {
		t.Error("output must not be valid before it is built")
	}

	plan3, _ := mustAddPlan(t, s, Plan{Name: "hello", System: testSystem, Builder: `echo bye > "$out"`})
	if plan3 == plan1 {
		t.Error("different builders must produce different plans")
	}

	read, err := s.ReadPlan(plan1)
	if err != nil {
		t.Fatalf("ReadPlan() error = %v", err)
	}
	if read.Output != out1 || read.Env["A"] != "1" {
		t.Errorf("ReadPlan() = %+v", read)
	}
}

func TestStore_AddPlanValidation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	tests := []struct {
		name string
		plan Plan
	}{
		{"bad name", Plan{Name: "a b", System: testSystem, Builder: "true"}},
		{"empty builder", Plan{Name: "x", System: testSystem, Builder: "  "}},
		{"no system", Plan{Name: "x", Builder: "true"}},
		{"reserved env", Plan{Name: "x", System: testSystem, Builder: "true", Env: map[string]string{"out": "/x"}}},
		{"unknown input", Plan{Name: "x", System: testSystem, Builder: "true", InputSrcs: []model.StorePath{"/nowhere/abc-x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := s.AddPlan(tt.plan); !errors.Is(err, ErrInvalidPlan) {
				t.Errorf("AddPlan() error = %v, want ErrInvalidPlan", err)
			}
		})
	}
}

func TestStore_BuildPlan(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	dep, depOut := mustAddPlan(t, s, Plan{Name: "greeting", System: testSystem, Builder: `echo hello > "$out"`})
	plan, out := mustAddPlan(t, s, Plan{
		Name:       "app",
		System:     testSystem,
		Builder:    `mkdir -p "$out/bin"; echo "cat $dep" > "$out/bin/app"`,
		Env:        map[string]string{"dep": string(depOut)},
		InputPlans: []model.StorePath{dep},
	})

	got, err := s.BuildPlan(ctx, plan)
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}
	if got != out {
		t.Fatalf("BuildPlan() = %s, want %s", got, out)
	}

	data, err := os.ReadFile(string(depOut))
	if err != nil {
		t.Fatalf("dependency output missing: %v", err)
	}
	if strings.TrimSpace(string(data)) != "hello" {
		t.Errorf("dependency output = %q", data)
	}

	info, err := s.QueryPathInfo(out)
	if err != nil {
		t.Fatalf("QueryPathInfo() error = %v", err)
	}
	if info.Plan != plan {
		t.Errorf("Plan = %s, want %s", info.Plan, plan)
	}
	if !slices.Equal(info.References, []model.StorePath{depOut}) {
		t.Errorf("References = %v, want [%s]", info.References, depOut)
	}

	again, err := s.BuildPlan(ctx, plan)
	if err != nil || again != out {
		t.Errorf("rebuild = %s, %v", again, err)
	}
}

func TestStore_BuildPlanConcurrent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	plan, out := mustAddPlan(t, s, Plan{Name: "once", System: testSystem, Builder: `echo x >> "$out"`})

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.BuildPlan(context.Background(), plan); err != nil {
				t.Errorf("BuildPlan() error = %v", err)
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(string(out))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(data), "x") != 1 {
		t.Errorf("builder ran more than once: %q", data)
	}
}

func TestStore_BuildPlanFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		plan    Plan
		wantErr error
	}{
		{"non-zero exit", Plan{Name: "fail", System: testSystem, Builder: `echo partial > "$out"; exit 3`}, ErrBuilderFailed},
		{"no output", Plan{Name: "empty", System: testSystem, Builder: `true`}, ErrNoOutput},
		{"wrong system", Plan{Name: "other", System: "aarch64-darwin", Builder: `true`}, ErrSystemMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestStore(t)
			plan, out := mustAddPlan(t, s, tt.plan)

			_, err := s.BuildPlan(context.Background(), plan)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("BuildPlan() error = %v, want %v", err, tt.wantErr)
			}
			if _, statErr := os.Lstat(string(out)); !errors.Is(statErr, os.ErrNotExist) {
				t.Errorf("failed build left output behind: %v", statErr)
			}
			if s.IsValidPath(out) {
				t.Error("failed output registered valid")
			}
		})
	}
}

func TestStore_AddArtifact(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "bin", "tool"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("bin/tool", filepath.Join(src, "tool")); err != nil {
		t.Fatal(err)
	}

	p1, err := s.AddArtifact("tool", src, nil)
	if err != nil {
		t.Fatalf("AddArtifact() error = %v", err)
	}
	p2, err := s.AddArtifact("tool", src, nil)
	if err != nil || p1 != p2 {
		t.Errorf("re-adding the same tree gave %s, %v; want %s", p2, err, p1)
	}
	if target, err := os.Readlink(filepath.Join(string(p1), "tool")); err != nil || target != "bin/tool" {
		t.Errorf("symlink not preserved: %q, %v", target, err)
	}

	if err := os.WriteFile(filepath.Join(src, "bin", "tool"), []byte("changed"), 0o755); err != nil {
		t.Fatal(err)
	}
	p3, err := s.AddArtifact("tool", src, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p3 == p1 {
		t.Error("changed content must change the store path")
	}

	if _, err := s.AddArtifact("bad name", src, nil); !errors.Is(err, ErrInvalidName) {
		t.Errorf("AddArtifact() with bad name error = %v", err)
	}
}

func TestStore_AddPermRoot(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	plan1, out1 := mustAddPlan(t, s, Plan{Name: "v1", System: testSystem, Builder: `echo 1 > "$out"`})
	plan2, out2 := mustAddPlan(t, s, Plan{Name: "v2", System: testSystem, Builder: `echo 2 > "$out"`})
	for _, p := range []model.StorePath{plan1, plan2} {
		if _, err := s.BuildPlan(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	link := filepath.Join(t.TempDir(), "result")
	got, err := s.AddPermRoot(ctx, out1, link)
	if err != nil {
		t.Fatalf("AddPermRoot() error = %v", err)
	}
	if got != link {
		t.Errorf("AddPermRoot() = %s, want %s", got, link)
	}
	if target, _ := os.Readlink(link); target != string(out1) {
		t.Errorf("link target = %s, want %s", target, out1)
	}

	if _, err := s.AddPermRoot(ctx, out2, link); err != nil {
		t.Fatalf("replacing link: %v", err)
	}
	if target, _ := os.Readlink(link); target != string(out2) {
		t.Errorf("link target after replace = %s, want %s", target, out2)
	}

	roots, _, err := s.Roots()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(roots, []model.StorePath{out2}) {
		t.Errorf("Roots() = %v, want [%s]", roots, out2)
	}
}

func TestStore_AddPermRootRefusesOverwrite(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	plan, out := mustAddPlan(t, s, Plan{Name: "v", System: testSystem, Builder: `echo 1 > "$out"`})
	if _, err := s.BuildPlan(ctx, plan); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddPermRoot(ctx, out, file); !errors.Is(err, ErrLinkExists) {
		t.Errorf("overwriting a regular file: error = %v, want ErrLinkExists", err)
	}

	foreign := filepath.Join(dir, "foreign")
	if err := os.Symlink("/etc", foreign); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddPermRoot(ctx, out, foreign); !errors.Is(err, ErrLinkExists) {
		t.Errorf("overwriting a foreign symlink: error = %v, want ErrLinkExists", err)
	}

	if _, err := s.AddPermRoot(ctx, model.StorePath(filepath.Join(s.Dir(), hashParts("z")+"-z")), filepath.Join(dir, "r")); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("rooting an invalid path: error = %v, want ErrInvalidPath", err)
	}
}

func TestStore_AddPermRootFailureKeepsLink(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("permission bits do not apply to root")
	}
	s := newTestStore(t)
	ctx := context.Background()

	var outs []model.StorePath
	for _, v := range []string{"1", "2"} {
		plan, out := mustAddPlan(t, s, Plan{Name: "v" + v, System: testSystem, Builder: "echo " + v + ` > "$out"`})
		if _, err := s.BuildPlan(ctx, plan); err != nil {
			t.Fatal(err)
		}
		outs = append(outs, out)
	}

	dir := t.TempDir()
	link := filepath.Join(dir, "result")
	if _, err := s.AddPermRoot(ctx, outs[0], link); err != nil {
		t.Fatal(err)
	}

	if err := os.Chmod(s.rootsDir, 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(s.rootsDir, 0o755) })

	if _, err := s.AddPermRoot(ctx, outs[1], link); err == nil {
		t.Fatal("AddPermRoot() succeeded with a read-only roots directory")
	}
	if target, _ := os.Readlink(link); target != string(outs[0]) {
		t.Errorf("link target = %s, want it unchanged at %s", target, outs[0])
	}
	fresh := filepath.Join(dir, "fresh")
	if _, err := s.AddPermRoot(ctx, outs[1], fresh); err == nil {
		t.Fatal("AddPermRoot() succeeded with a read-only roots directory")
	}
	if _, err := os.Lstat(fresh); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output link created although its root was not registered: %v", err)
	}
}

func TestStore_AddPermRootLinkFailureDropsRecord(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("permission bits do not apply to root")
	}
	s := newTestStore(t)
	ctx := context.Background()
	plan, out := mustAddPlan(t, s, Plan{Name: "v", System: testSystem, Builder: `echo 1 > "$out"`})
	if _, err := s.BuildPlan(ctx, plan); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	if _, err := s.AddPermRoot(ctx, out, filepath.Join(dir, "result")); err == nil {
		t.Fatal("AddPermRoot() succeeded in a read-only directory")
	}
	entries, err := os.ReadDir(s.rootsDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("root records left behind: %v", entries)
	}
}

func TestStore_LockSharedHoldsOffCollector(t *testing.T) {
	t.Parallel()
	if !flockSupported {
		t.Skip("flock not available")
	}
	s := newTestStore(t)
	ctx := context.Background()

	// A second handle on the same root stands in for another process.
	other, err := Open(s.Root(), Options{System: testSystem})
	if err != nil {
		t.Fatal(err)
	}

	lock, err := s.LockShared()
	if err != nil {
		t.Fatalf("LockShared() error = %v", err)
	}
	defer lock.Release()

	plan, out := mustAddPlan(t, s, Plan{Name: "fresh", System: testSystem, Builder: `echo fresh > "$out"`})
	if _, err := s.BuildPlan(ctx, plan); err != nil {
		t.Fatal(err)
	}

	type gcDone struct {
		res *GCResult
		err error
	}
	done := make(chan gcDone, 1)
	go func() {
		res, err := other.CollectGarbage(ctx)
		done <- gcDone{res, err}
	}()

	select {
	case <-done:
		t.Fatal("collector ran while a shared lock was held")
	case <-time.After(200 * time.Millisecond):
	}

	if _, err := s.AddPermRoot(ctx, out, filepath.Join(t.TempDir(), "result")); err != nil {
		t.Fatalf("AddPermRoot() error = %v", err)
	}
	lock.Release()

	got := <-done
	if got.err != nil {
		t.Fatalf("CollectGarbage() error = %v", got.err)
	}
	if !s.IsValidPath(out) {
		t.Errorf("%s was collected although it was rooted before the lock was released", out)
	}
	if s.IsValidPath(plan) {
		t.Errorf("unrooted plan %s survived collection", plan)
	}
}

func TestStore_CollectGarbage(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	dep, depOut := mustAddPlan(t, s, Plan{Name: "dep", System: testSystem, Builder: `echo dep > "$out"`})
	keep, keepOut := mustAddPlan(t, s, Plan{
		Name:       "keep",
		System:     testSystem,
		Builder:    `echo "$dep" > "$out"`,
		Env:        map[string]string{"dep": string(depOut)},
		InputPlans: []model.StorePath{dep},
	})
	drop, dropOut := mustAddPlan(t, s, Plan{Name: "drop", System: testSystem, Builder: `echo drop > "$out"`})
	for _, p := range []model.StorePath{keep, drop} {
		if _, err := s.BuildPlan(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	dir := t.TempDir()
	if _, err := s.AddPermRoot(ctx, keepOut, filepath.Join(dir, "keep")); err != nil {
		t.Fatal(err)
	}
	gone := filepath.Join(dir, "gone")
	if _, err := s.AddPermRoot(ctx, dropOut, gone); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}

	res, err := s.CollectGarbage(ctx)
	if err != nil {
		t.Fatalf("CollectGarbage() error = %v", err)
	}
	if len(res.StaleRoots) != 1 {
		t.Errorf("StaleRoots = %v, want one", res.StaleRoots)
	}
	for _, p := range []model.StorePath{keepOut, depOut} {
		if !s.IsValidPath(p) {
			t.Errorf("%s was collected but is reachable", p)
		}
	}
	for _, p := range []model.StorePath{dropOut, drop, keep, dep} {
		if s.IsValidPath(p) {
			t.Errorf("%s survived collection", p)
		}
		if _, err := os.Lstat(string(p)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s still on disk", p)
		}
	}
}

func TestTailBuffer(t *testing.T) {
	t.Parallel()

	var tb tailBuffer
	_, _ = tb.Write([]byte(strings.Repeat("a", tailSize)))
	_, _ = tb.Write([]byte("end\n"))
	got := tb.String()
	if len(got) != tailSize-1 || !strings.HasSuffix(got, "end") {
		t.Errorf("tail length %d, suffix %q", len(got), got[len(got)-5:])
	}
}
