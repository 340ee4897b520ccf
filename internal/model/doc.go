// SPDX-License-Identifier: MPL-2.0

// Package model holds the value types shared by the bundling pipeline and
// its collaborators: store paths, provenance-tagged strings, resolved
// applications, and the opaque evaluator value surface.
package model
