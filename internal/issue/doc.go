// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and a catalog of Markdown
// guidance pages, one per class of failure the bundle command can report.
package issue
