// SPDX-License-Identifier: MPL-2.0

//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package store

import "os"

const flockSupported = false

func acquireFlock(string, bool) (*os.File, error) {
	return nil, errFlockUnavailable
}

func releaseFlock(*os.File) {}
