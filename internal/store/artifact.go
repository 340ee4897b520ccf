// SPDX-License-Identifier: MPL-2.0

package store

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/appbundle/appbundle/internal/model"
)

// AddArtifact copies the file or directory at src into the store under name
// and registers it with the given references. The path is derived from the
// content, so adding the same tree twice yields the same path.
func (s *Store) AddArtifact(name, src string, refs []model.StorePath) (model.StorePath, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range refs {
		if !s.IsValidPath(r) {
			return "", fmt.Errorf("%w: reference %s", ErrInvalidPath, r)
		}
	}

	lk, err := s.lock.acquire(false)
	if err != nil {
		return "", err
	}
	defer lk.Release()

	digest, err := treeDigest(src)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", src, err)
	}
	refParts := []string{"source", name, digest}
	for _, r := range model.SortedPaths(refs) {
		refParts = append(refParts, string(r))
	}
	dst := s.makePath(hashParts(refParts...), name)
	if s.IsValidPath(dst) {
		return dst, nil
	}

	if err := os.RemoveAll(string(dst)); err != nil {
		return "", err
	}
	if err := copyTree(src, string(dst)); err != nil {
		_ = os.RemoveAll(string(dst))
		return "", fmt.Errorf("failed to copy %s into the store: %w", src, err)
	}
	if err := s.registerValidPath(PathInfo{Path: dst, References: refs}); err != nil {
		return "", err
	}
	return dst, nil
}

// treeDigest hashes relative paths, modes, file contents and link targets
// in walk order.
func treeDigest(root string) (string, error) {
	h := sha256.New()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "%s\x00%o\x00", filepath.ToSlash(rel), info.Mode().Perm()&0o111)
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(h, "link\x00%s\x00", target)
		case d.Type().IsRegular():
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(h, f)
			_ = f.Close()
			if err != nil {
				return err
			}
			_, _ = h.Write([]byte{0})
		case d.IsDir():
			_, _ = h.Write([]byte("dir\x00"))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return hashDigest(h.Sum(nil)), nil
}

// copyTree copies regular files, directories and symlinks from src to dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target, info.Mode().Perm()|0o444)
		default:
			return fmt.Errorf("unsupported file type at %s", path)
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
