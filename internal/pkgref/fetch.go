// SPDX-License-Identifier: MPL-2.0

package pkgref

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/mod/semver"
)

// maxRegistryHops bounds registry indirection chains.
const maxRegistryHops = 8

var (
	// ErrNotFound is returned when a local package directory does not exist.
	ErrNotFound = errors.New("package not found")
	// ErrUnresolved is returned when an indirect reference has no registry entry.
	ErrUnresolved = errors.New("unresolved indirect reference")
)

type (
	// Source is a fetched package tree.
	Source struct {
		// Ref is the reference that was finally fetched, after registry lookup.
		Ref Ref
		// Dir is the absolute directory holding the package files.
		Dir string
		// Rev is the checked-out commit for git packages; empty for paths.
		Rev string
	}

	// Fetcher materialises package references on the local filesystem.
	Fetcher struct {
		// CacheDir is the base directory for the git source cache.
		CacheDir string

		// Registry maps canonical reference strings or indirect names to
		// replacement references.
		Registry map[string]string

		sshAuth  transport.AuthMethod
		httpAuth transport.AuthMethod
		mu       sync.Mutex
	}
)

// NewFetcher creates a fetcher with credentials discovered from the
// environment.
func NewFetcher(cacheDir string, registry map[string]string) *Fetcher {
	f := &Fetcher{
		CacheDir: cacheDir,
		Registry: registry,
	}
	f.setupAuth()
	return f
}

// Fetch resolves ref through the registry and makes its tree available.
func (f *Fetcher) Fetch(ctx context.Context, ref Ref) (Source, error) {
	resolved, err := f.resolveRegistry(ref)
	if err != nil {
		return Source{}, err
	}

	switch resolved.Kind {
	case KindPath:
		dir := filepath.Join(resolved.Path, filepath.FromSlash(resolved.Dir))
		info, statErr := os.Stat(dir)
		if statErr != nil || !info.IsDir() {
			return Source{}, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return Source{Ref: resolved, Dir: dir}, nil
	case KindGit, KindGitHub:
		return f.fetchGit(ctx, resolved)
	default:
		return Source{}, fmt.Errorf("%w: %s", ErrUnresolved, resolved.String())
	}
}

// resolveRegistry follows registry entries, keeping ref.Dir and ref.Rev from
// the original reference when the replacement does not set them.
func (f *Fetcher) resolveRegistry(ref Ref) (Ref, error) {
	current := ref
	for range maxRegistryHops {
		target, ok := f.lookupRegistry(current)
		if !ok {
			if current.Kind == KindIndirect {
				return Ref{}, fmt.Errorf("%w: %s", ErrUnresolved, current.ID)
			}
			return current, nil
		}
		next, err := Parse(target, "")
		if err != nil {
			return Ref{}, fmt.Errorf("registry entry for %s: %w", current.String(), err)
		}
		if next.Dir == "" {
			next.Dir = current.Dir
		}
		if next.Rev == "" && next.IsRemote() {
			next.Rev = current.Rev
		}
		slog.Debug("registry redirect", "from", current.String(), "to", next.String())
		current = next
	}
	return Ref{}, fmt.Errorf("registry redirects for %s exceed %d hops", ref.String(), maxRegistryHops)
}

func (f *Fetcher) lookupRegistry(ref Ref) (string, bool) {
	if len(f.Registry) == 0 {
		return "", false
	}
	if ref.Kind == KindIndirect {
		target, ok := f.Registry[ref.ID]
		return target, ok
	}
	bare := ref
	bare.Dir, bare.Rev = "", ""
	if target, ok := f.Registry[ref.String()]; ok {
		return target, true
	}
	target, ok := f.Registry[bare.String()]
	return target, ok
}

func (f *Fetcher) fetchGit(ctx context.Context, ref Ref) (Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cachePath := f.repoCachePath(ref.URL)

	repo, err := git.PlainOpen(cachePath)
	if err != nil {
		if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
			return Source{}, fmt.Errorf("failed to create source cache: %w", err)
		}
		repo, err = git.PlainCloneContext(ctx, cachePath, false, &git.CloneOptions{
			URL:  ref.URL,
			Auth: f.authFor(ref.URL),
		})
		if err != nil {
			_ = os.RemoveAll(cachePath)
			return Source{}, fmt.Errorf("failed to clone %s: %w", ref.URL, err)
		}
	} else if fetchErr := f.fetch(ctx, repo, ref.URL); fetchErr != nil {
		// The requested revision may already be present locally.
		slog.Debug("git fetch failed, using cached repository", "url", ref.URL, "error", fetchErr)
	}

	hash, err := resolveRevision(repo, ref)
	if err != nil {
		return Source{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Source{}, fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return Source{}, fmt.Errorf("failed to checkout %s: %w", hash, err)
	}

	dir := filepath.Join(cachePath, filepath.FromSlash(ref.Dir))
	if info, statErr := os.Stat(dir); statErr != nil || !info.IsDir() {
		return Source{}, fmt.Errorf("%w: %s has no directory %q", ErrNotFound, ref.URL, ref.Dir)
	}
	return Source{Ref: ref, Dir: dir, Rev: hash.String()}, nil
}

func (f *Fetcher) fetch(ctx context.Context, repo *git.Repository, gitURL string) error {
	err := repo.FetchContext(ctx, &git.FetchOptions{
		Auth:  f.authFor(gitURL),
		Tags:  git.AllTags,
		Force: true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}

// resolveRevision picks the commit to check out: an explicit rev wins, then a
// named ref (tags first when it looks like a version), then the remote HEAD.
func resolveRevision(repo *git.Repository, ref Ref) (plumbing.Hash, error) {
	if ref.Rev != "" {
		if !plumbing.IsHash(ref.Rev) {
			return plumbing.ZeroHash, fmt.Errorf("rev %q is not a commit hash", ref.Rev)
		}
		return plumbing.NewHash(ref.Rev), nil
	}

	var candidates []string
	if ref.GitRef != "" {
		tags := []string{"refs/tags/" + ref.GitRef}
		branches := []string{"refs/remotes/origin/" + ref.GitRef, "refs/heads/" + ref.GitRef}
		if isVersion(ref.GitRef) {
			candidates = append(tags, branches...)
		} else {
			candidates = append(branches, tags...)
		}
	} else {
		candidates = []string{
			"refs/remotes/origin/HEAD",
			"refs/remotes/origin/main",
			"refs/remotes/origin/master",
			"HEAD",
		}
	}

	for _, c := range candidates {
		h, err := repo.ResolveRevision(plumbing.Revision(c))
		if err == nil {
			return *h, nil
		}
	}
	return plumbing.ZeroHash, fmt.Errorf("revision %q not found", ref.GitRef)
}

func isVersion(s string) bool {
	return semver.IsValid(s) || semver.IsValid("v"+s)
}

// repoCachePath maps a clone URL to a directory under the source cache,
// e.g. "https://github.com/user/repo.git" -> "<cache>/sources/github.com/user/repo".
func (f *Fetcher) repoCachePath(gitURL string) string {
	p := gitURL
	for _, prefix := range []string{"https://", "http://", "ssh://", "file://", "git@"} {
		p = strings.TrimPrefix(p, prefix)
	}
	p = strings.TrimSuffix(p, ".git")
	p = strings.ReplaceAll(p, ":", "/")
	return filepath.Join(f.CacheDir, "sources", filepath.FromSlash(strings.TrimLeft(p, "/")))
}

func (f *Fetcher) setupAuth() {
	f.sshAuth = trySSHAuth()
	f.httpAuth = tryHTTPAuth()
}

// authFor returns the credentials matching the URL transport; nil for local
// and anonymous access.
func (f *Fetcher) authFor(gitURL string) transport.AuthMethod {
	switch {
	case strings.HasPrefix(gitURL, "ssh://") || strings.HasPrefix(gitURL, "git@"):
		return f.sshAuth
	case strings.HasPrefix(gitURL, "https://") || strings.HasPrefix(gitURL, "http://"):
		return f.httpAuth
	default:
		return nil
	}
}

func trySSHAuth() transport.AuthMethod {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		keyPath := filepath.Join(homeDir, ".ssh", name)
		if _, err := os.Stat(keyPath); err != nil {
			continue
		}
		if auth, err := ssh.NewPublicKeysFromFile("git", keyPath, ""); err == nil {
			return auth
		}
	}
	return nil
}

func tryHTTPAuth() transport.AuthMethod {
	for _, c := range []struct{ env, user string }{
		{"GITHUB_TOKEN", "x-access-token"},
		{"GITLAB_TOKEN", "gitlab-ci-token"},
		{"GIT_TOKEN", "git"},
	} {
		if token := os.Getenv(c.env); token != "" {
			return &http.BasicAuth{Username: c.user, Password: token}
		}
	}
	return nil
}
