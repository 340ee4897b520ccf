// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/appbundle/appbundle/internal/model"
)

// ErrLinkExists is returned when the output link path is occupied by
// something other than a link into the store.
var ErrLinkExists = errors.New("output link path already exists")

// GCResult summarises a garbage collection.
type GCResult struct {
	// Roots are the store paths kept alive by output links.
	Roots []model.StorePath
	// Deleted are the store entries that were removed.
	Deleted []model.StorePath
	// StaleRoots are root records whose link no longer points into the store.
	StaleRoots []string
}

// AddPermRoot points link at path and registers link as an indirect GC
// root. Both symlinks are created under a temporary name and renamed into
// place, so a concurrent collector never observes a half-written link. The
// root record is written before the link; if the link cannot be replaced a
// new record is removed again and any earlier link is left as it was. It
// returns the absolute link path.
func (s *Store) AddPermRoot(_ context.Context, path model.StorePath, link string) (string, error) {
	lk, err := s.lock.acquire(false)
	if err != nil {
		return "", err
	}
	defer lk.Release()

	if !s.IsValidPath(path) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}
	abs, err := filepath.Abs(link)
	if err != nil {
		return "", fmt.Errorf("failed to resolve link path: %w", err)
	}

	if fi, err := os.Lstat(abs); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			return "", fmt.Errorf("%w: %s", ErrLinkExists, abs)
		}
		target, err := os.Readlink(abs)
		if err != nil {
			return "", err
		}
		if _, err := s.ToStorePath(target); err != nil {
			return "", fmt.Errorf("%w: %s points outside the store", ErrLinkExists, abs)
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("failed to create link directory: %w", err)
	}
	record := s.indirectRootPath(abs)
	_, statErr := os.Lstat(record)
	if err := replaceSymlink(abs, record); err != nil {
		return "", fmt.Errorf("failed to register GC root: %w", err)
	}
	if err := replaceSymlink(string(path), abs); err != nil {
		if statErr != nil {
			_ = os.Remove(record)
		}
		return "", fmt.Errorf("failed to create output link: %w", err)
	}
	return abs, nil
}

func (s *Store) indirectRootPath(link string) string {
	return filepath.Join(s.rootsDir, hashParts("root", link))
}

// replaceSymlink atomically makes link point at target.
func replaceSymlink(target, link string) error {
	tmp, err := os.CreateTemp(filepath.Dir(link), ".tmp-link-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_ = tmp.Close()
	if err := os.Remove(tmpName); err != nil {
		return err
	}
	if err := os.Symlink(target, tmpName); err != nil {
		return err
	}
	if err := os.Rename(tmpName, link); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Roots returns the store paths currently held by output links. Root records
// whose link is gone or no longer points into the store are returned as
// stale.
func (s *Store) Roots() (roots []model.StorePath, stale []string, err error) {
	entries, err := os.ReadDir(s.rootsDir)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		record := filepath.Join(s.rootsDir, e.Name())
		link, err := os.Readlink(record)
		if err != nil {
			stale = append(stale, record)
			continue
		}
		target, err := os.Readlink(link)
		if err != nil {
			stale = append(stale, record)
			continue
		}
		p, err := s.ToStorePath(target)
		if err != nil || !s.IsValidPath(p) {
			stale = append(stale, record)
			continue
		}
		roots = append(roots, p)
	}
	return model.SortedPaths(roots), stale, nil
}

// CollectGarbage deletes every store entry not reachable from a live root
// and prunes stale root records.
func (s *Store) CollectGarbage(ctx context.Context) (*GCResult, error) {
	lk, err := s.lock.acquire(true)
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	roots, stale, err := s.Roots()
	if err != nil {
		return nil, fmt.Errorf("failed to read roots: %w", err)
	}
	for _, r := range stale {
		if err := os.Remove(r); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to prune root %s: %w", r, err)
		}
	}

	live, err := s.QueryClosure(roots)
	if err != nil {
		return nil, fmt.Errorf("failed to compute live closure: %w", err)
	}
	keep := make(map[model.StorePath]bool, len(live))
	for _, p := range live {
		keep[p] = true
	}

	entries, err := os.ReadDir(s.storeDir)
	if err != nil {
		return nil, err
	}
	res := &GCResult{Roots: roots, StaleRoots: stale}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		p := model.StorePath(filepath.Join(s.storeDir, e.Name()))
		if keep[p] {
			continue
		}
		if err := s.invalidatePath(p); err != nil {
			return res, fmt.Errorf("failed to invalidate %s: %w", p, err)
		}
		if err := makeWritable(string(p)); err != nil {
			slog.Debug("could not make path writable", "path", p, "error", err)
		}
		if err := os.RemoveAll(string(p)); err != nil {
			return res, fmt.Errorf("failed to delete %s: %w", p, err)
		}
		res.Deleted = append(res.Deleted, p)
	}
	return res, nil
}

// makeWritable adds owner write permission to directories under root so
// their contents can be removed.
func makeWritable(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return os.Chmod(path, info.Mode().Perm()|0o200)
		}
		return nil
	})
}
