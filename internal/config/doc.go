// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/appbundle/config.cue (or the XDG
// equivalent on Linux, ~/Library/Application Support/appbundle/config.cue on
// macOS, %APPDATA%\appbundle\config.cue on Windows), validated against the
// embedded #Config schema, and overridden by APPBUNDLE_* environment variables.
package config
