// SPDX-License-Identifier: MPL-2.0

// Package pkgref parses package references and fetches the packages they
// name.
//
// A reference is one of:
//
//	github:owner/repo[/ref][?dir=sub&rev=sha]
//	git+https://host/path.git[?ref=branch&rev=sha&dir=sub]
//	git+ssh://git@host/path.git, git+file:///path/to/repo
//	path:/abs/dir, /abs/dir, ./rel/dir, ../rel/dir, .
//	name                      (indirect; resolved through the registry)
//
// Any of these may be followed by "#fragment" naming an attribute inside the
// package. Git packages are cloned into a source cache with go-git.
package pkgref
