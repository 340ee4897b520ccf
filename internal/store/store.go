// SPDX-License-Identifier: MPL-2.0

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/appbundle/appbundle/internal/model"
)

var (
	// ErrNotInStore is returned for paths outside the store namespace.
	ErrNotInStore = errors.New("path is not in the store")
	// ErrInvalidPath is returned when a store path is not registered as valid.
	ErrInvalidPath = errors.New("store path is not valid")
	// ErrInvalidName is returned for names that cannot appear in a store path.
	ErrInvalidName = errors.New("invalid store path name")
)

type (
	// Options configures a Store.
	Options struct {
		// System is the platform triple this store builds for.
		System string
	}

	// Store is a local content-addressed store rooted at a directory.
	Store struct {
		root     string
		storeDir string
		dbDir    string
		rootsDir string
		logDir   string
		tmpDir   string
		system   string

		pathRe *regexp.Regexp

		lock storeLock

		mu     sync.Mutex
		builds map[model.StorePath]*sync.Mutex
	}
)

// Open creates the store layout under root if needed and returns the store.
func Open(root string, opts Options) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store root: %w", err)
	}
	// Store paths must be stable strings, so resolve symlinked roots up front.
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	s := &Store{
		root:     abs,
		storeDir: filepath.Join(abs, "store"),
		dbDir:    filepath.Join(abs, "var", "db"),
		rootsDir: filepath.Join(abs, "var", "gcroots", "auto"),
		logDir:   filepath.Join(abs, "var", "log"),
		tmpDir:   filepath.Join(abs, "var", "tmp"),
		system:   opts.System,
		builds:   make(map[model.StorePath]*sync.Mutex),
	}
	s.lock.path = filepath.Join(abs, "var", "gc.lock")
	for _, dir := range []string{s.storeDir, s.dbDir, s.rootsDir, s.logDir, s.tmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	s.pathRe = regexp.MustCompile(regexp.QuoteMeta(s.storeDir) + `/[0-9a-z]{32}-[a-zA-Z0-9+._?=-]+`)
	return s, nil
}

// Dir returns the directory holding store entries.
func (s *Store) Dir() string { return s.storeDir }

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// System returns the platform triple the store builds for.
func (s *Store) System() string { return s.system }

// PrintPath renders a store path for display.
func (s *Store) PrintPath(p model.StorePath) string { return string(p) }

// ParseStorePath checks that p is a direct entry of the store directory with
// a well-formed base name.
func (s *Store) ParseStorePath(p string) (model.StorePath, error) {
	clean := filepath.Clean(p)
	if filepath.Dir(clean) != s.storeDir || !basePattern.MatchString(filepath.Base(clean)) {
		return "", fmt.Errorf("%w: %s", ErrNotInStore, p)
	}
	return model.StorePath(clean), nil
}

// ToStorePath returns the store entry containing p, e.g. the entry of
// "<store>/<hash>-app/bin/app".
func (s *Store) ToStorePath(p string) (model.StorePath, error) {
	clean := filepath.Clean(p)
	rel, err := filepath.Rel(s.storeDir, clean)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s", ErrNotInStore, p)
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return s.ParseStorePath(filepath.Join(s.storeDir, first))
}

// PathsIn returns the store entries mentioned anywhere in text, sorted.
func (s *Store) PathsIn(text string) []model.StorePath {
	var found []model.StorePath
	for _, m := range s.pathRe.FindAllString(text, -1) {
		if p, err := s.ParseStorePath(m); err == nil {
			found = append(found, p)
		}
	}
	return model.SortedPaths(found)
}

// buildLock returns the mutex serialising builds of out.
func (s *Store) buildLock(out model.StorePath) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.builds[out]
	if !ok {
		m = &sync.Mutex{}
		s.builds[out] = m
	}
	return m
}

func (s *Store) makePath(hash, name string) model.StorePath {
	return model.StorePath(filepath.Join(s.storeDir, hash+"-"+name))
}

// writeFileAtomic writes data to a temporary sibling and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
