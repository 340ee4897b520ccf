// SPDX-License-Identifier: MPL-2.0

package eval

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// LockFileName is the file recording the evaluated state of a local package.
const LockFileName = "package.lock.toml"

type lockFile struct {
	Ref    string   `toml:"ref"`
	Rev    string   `toml:"rev,omitempty"`
	Digest string   `toml:"digest"`
	Files  []string `toml:"files"`
}

// writeLockFile records the package's files and their digest. An up-to-date
// lock file is left untouched.
func writeLockFile(pkg *loadedPackage) error {
	h := sha256.New()
	for _, name := range pkg.files {
		data, err := os.ReadFile(filepath.Join(pkg.src.Dir, name))
		if err != nil {
			return err
		}
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
	}

	data, err := toml.Marshal(lockFile{
		Ref:    pkg.src.Ref.String(),
		Rev:    pkg.src.Rev,
		Digest: "sha256:" + hex.EncodeToString(h.Sum(nil)),
		Files:  pkg.files,
	})
	if err != nil {
		return err
	}

	path := filepath.Join(pkg.src.Dir, LockFileName)
	if old, err := os.ReadFile(path); err == nil && bytes.Equal(old, data) {
		return nil
	}
	return os.WriteFile(path, data, 0o644)
}
