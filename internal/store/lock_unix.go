// SPDX-License-Identifier: MPL-2.0

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package store

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

const flockSupported = true

// acquireFlock opens (or creates) the lock file at path and blocks until it
// holds a shared or exclusive flock on it.
func acquireFlock(path string, exclusive bool) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return f, nil
}

func releaseFlock(f *os.File) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		slog.Debug("flock unlock failed", "error", err)
	}
	if err := f.Close(); err != nil {
		slog.Debug("lock file close failed", "error", err)
	}
}
