// SPDX-License-Identifier: MPL-2.0

// Command appbundle bundles applications described in CUE packages into
// standalone artifacts.
package main

import cmd "github.com/appbundle/appbundle/cmd/appbundle"

func main() {
	cmd.Execute()
}
