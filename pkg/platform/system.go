// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// OS name constants for runtime.GOOS comparisons.
const (
	Windows = "windows"
	Darwin  = "darwin"
	Linux   = "linux"
)

// ErrInvalidSystem is the sentinel error wrapped by InvalidSystemError.
var ErrInvalidSystem = errors.New("invalid system")

type (
	// System is a platform triple such as "x86_64-linux".
	System string

	// InvalidSystemError is returned when a string is not an "<arch>-<os>"
	// pair. It wraps ErrInvalidSystem for errors.Is() compatibility.
	InvalidSystemError struct {
		Value string
	}
)

var archNames = map[string]string{
	"amd64":   "x86_64",
	"arm64":   "aarch64",
	"386":     "i686",
	"arm":     "armv7l",
	"riscv64": "riscv64",
	"ppc64le": "powerpc64le",
	"s390x":   "s390x",
}

// Error implements the error interface.
func (e *InvalidSystemError) Error() string {
	return fmt.Sprintf("invalid system %q (expected <arch>-<os>, e.g. x86_64-linux)", e.Value)
}

// Unwrap returns ErrInvalidSystem for errors.Is() compatibility.
func (e *InvalidSystemError) Unwrap() error { return ErrInvalidSystem }

// Current returns the system of the running binary.
func Current() System {
	return FromGo(runtime.GOOS, runtime.GOARCH)
}

// FromGo converts a GOOS/GOARCH pair. Unknown architectures keep their Go
// name.
func FromGo(goos, goarch string) System {
	arch, ok := archNames[goarch]
	if !ok {
		arch = goarch
	}
	return System(arch + "-" + goos)
}

// Parse validates s and returns it as a System.
func Parse(s string) (System, error) {
	sys := System(s)
	if err := sys.Validate(); err != nil {
		return "", err
	}
	return sys, nil
}

// Validate checks that the system has a non-empty arch and OS part.
func (s System) Validate() error {
	arch, osName, ok := strings.Cut(string(s), "-")
	if !ok || arch == "" || osName == "" || strings.ContainsAny(string(s), " ./") {
		return &InvalidSystemError{Value: string(s)}
	}
	return nil
}

// Arch returns the architecture part, e.g. "x86_64".
func (s System) Arch() string {
	arch, _, _ := strings.Cut(string(s), "-")
	return arch
}

// OS returns the operating system part, e.g. "linux".
func (s System) OS() string {
	_, osName, _ := strings.Cut(string(s), "-")
	return osName
}

func (s System) String() string { return string(s) }
