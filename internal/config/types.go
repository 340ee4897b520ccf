// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// DefaultBundler is the bundler package used when none is configured.
	DefaultBundler = "github:matthewbauer/nix-bundle"
)

// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
var ErrInvalidColorScheme = errors.New("invalid color scheme")

type (
	// ColorScheme selects the palette used for rendered output.
	ColorScheme string

	// Config is the effective configuration.
	Config struct {
		// StoreDir is the root of the local artifact store.
		StoreDir string `json:"store_dir" mapstructure:"store_dir"`
		// CacheDir holds cloned package sources.
		CacheDir string `json:"cache_dir" mapstructure:"cache_dir"`
		// DefaultBundler is used when no --bundler is given.
		DefaultBundler string `json:"default_bundler" mapstructure:"default_bundler"`
		// System overrides the detected platform triple when set.
		System string `json:"system" mapstructure:"system"`
		// Registry redirects package references.
		Registry map[string]string `json:"registry" mapstructure:"registry"`
		UI       UIConfig          `json:"ui" mapstructure:"ui"`
	}

	// UIConfig configures terminal output.
	UIConfig struct {
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
	}
)

// Validate returns an error if the scheme is not auto, dark or light.
func (c ColorScheme) Validate() error {
	switch c {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return nil
	default:
		return fmt.Errorf("%w: %q (valid: auto, dark, light)", ErrInvalidColorScheme, c)
	}
}

// GlamourStyle returns the glamour style name for the scheme.
func (c ColorScheme) GlamourStyle() string {
	switch c {
	case ColorSchemeDark:
		return "dark"
	case ColorSchemeLight:
		return "light"
	default:
		return "auto"
	}
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		StoreDir:       defaultStoreDir(),
		CacheDir:       defaultCacheDir(),
		DefaultBundler: DefaultBundler,
		Registry:       map[string]string{},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
		},
	}
}

func defaultStoreDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", AppName)
	}
	return filepath.Join(os.TempDir(), AppName, "data")
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(os.TempDir(), AppName, "cache")
}
