// SPDX-License-Identifier: MPL-2.0

// Package platform maps Go's GOOS/GOARCH pairs to the "<arch>-<os>" system
// triples used to key per-platform attributes such as
// bundlers.x86_64-linux.default.
package platform
