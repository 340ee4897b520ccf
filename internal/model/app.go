// SPDX-License-Identifier: MPL-2.0

package model

import "path/filepath"

// App is a resolved, runnable application.
type App struct {
	// Program is the path of the entry executable.
	Program string
	// Context is the set of store paths the program transitively depends on.
	Context []StorePath
}

// ProgramName returns the base name of the program path.
func (a App) ProgramName() string { return filepath.Base(a.Program) }

// LockFlags controls how package evaluation treats lock files.
type LockFlags struct {
	// WriteLockFile permits the evaluator to record the resolved source of a
	// local package next to it.
	WriteLockFile bool
}
