// SPDX-License-Identifier: MPL-2.0

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/appbundle/appbundle/internal/model"
)

// PathInfo is the validity record of a store path.
type PathInfo struct {
	Path model.StorePath `toml:"path"`
	// Plan is the plan that produced the path, if it was built.
	Plan model.StorePath `toml:"plan,omitempty"`
	// References are the store paths this path depends on at runtime.
	References   []model.StorePath `toml:"references"`
	RegisteredAt time.Time         `toml:"registered_at"`
}

func (s *Store) dbPath(p model.StorePath) string {
	return filepath.Join(s.dbDir, p.Base()+".toml")
}

// IsValidPath reports whether p has been registered.
func (s *Store) IsValidPath(p model.StorePath) bool {
	_, err := os.Stat(s.dbPath(p))
	return err == nil
}

// QueryPathInfo returns the validity record of p.
func (s *Store) QueryPathInfo(p model.StorePath) (*PathInfo, error) {
	data, err := os.ReadFile(s.dbPath(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPath, p)
		}
		return nil, fmt.Errorf("failed to read path info: %w", err)
	}
	var info PathInfo
	if err := toml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("corrupt path info for %s: %w", p, err)
	}
	return &info, nil
}

// registerValidPath records info; the path must already exist on disk.
func (s *Store) registerValidPath(info PathInfo) error {
	if _, err := os.Lstat(string(info.Path)); err != nil {
		return fmt.Errorf("cannot register %s: %w", info.Path, err)
	}
	info.References = model.SortedPaths(info.References)
	if info.References == nil {
		info.References = []model.StorePath{}
	}
	if info.RegisteredAt.IsZero() {
		info.RegisteredAt = time.Now().UTC()
	}
	data, err := toml.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode path info: %w", err)
	}
	return writeFileAtomic(s.dbPath(info.Path), data, 0o644)
}

func (s *Store) invalidatePath(p model.StorePath) error {
	err := os.Remove(s.dbPath(p))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// QueryClosure returns every valid path reachable from paths through
// references, including paths themselves, sorted.
func (s *Store) QueryClosure(paths []model.StorePath) ([]model.StorePath, error) {
	seen := make(map[model.StorePath]bool)
	queue := append([]model.StorePath(nil), paths...)
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if seen[p] {
			continue
		}
		info, err := s.QueryPathInfo(p)
		if err != nil {
			return nil, err
		}
		seen[p] = true
		queue = append(queue, info.References...)
	}

	out := make([]model.StorePath, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	return model.SortedPaths(out), nil
}
