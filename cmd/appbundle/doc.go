// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for appbundle.
//
// The root command wires configuration, the local store, the package
// evaluator and the bundling pipeline through an App composition root.
// Command handlers receive the App and delegate to its services.
package cmd
