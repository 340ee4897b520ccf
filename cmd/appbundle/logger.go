// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/log"
)

// newLogger returns a slog.Logger backed by a charmbracelet/log handler.
// Verbose mode logs every pipeline stage; otherwise only warnings and errors
// are shown.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := log.WarnLevel
	if verbose {
		level = log.DebugLevel
	}
	handler := log.NewWithOptions(w, log.Options{
		Prefix: "appbundle",
		Level:  level,
	})
	return slog.New(handler)
}
