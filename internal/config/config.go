// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/appbundle/appbundle/internal/issue"
	"github.com/appbundle/appbundle/pkg/cueutil"
	"github.com/appbundle/appbundle/pkg/platform"
)

const (
	// AppName is the application name.
	AppName = "appbundle"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. APPBUNDLE_STORE_DIR.
	EnvPrefix = "APPBUNDLE"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the appbundle configuration directory using
// platform-specific conventions: Windows uses %APPDATA%, macOS uses
// ~/Library/Application Support, and Linux/others use $XDG_CONFIG_HOME
// (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case platform.Windows:
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case platform.Darwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, AppName), nil
}

// Load reads the configuration described by opts.
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	cfg, _, err := LoadWithPath(ctx, opts)
	return cfg, err
}

// LoadWithPath is Load that also reports which file was read; the path is
// empty when only defaults and the environment applied.
func LoadWithPath(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("load config canceled: %w", err)
	}

	v := viper.New()
	defaults := DefaultConfig()
	v.SetDefault("store_dir", defaults.StoreDir)
	v.SetDefault("cache_dir", defaults.CacheDir)
	v.SetDefault("default_bundler", defaults.DefaultBundler)
	v.SetDefault("system", defaults.System)
	v.SetDefault("registry", defaults.Registry)
	v.SetDefault("ui.verbose", defaults.UI.Verbose)
	v.SetDefault("ui.color_scheme", defaults.UI.ColorScheme)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := FilePath(opts)
	if err != nil {
		return nil, "", err
	}
	var fileRegistry map[string]string
	if path != "" {
		configMap, err := loadCUEIntoViper(v, path)
		if err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Run 'appbundle config show' to see the effective configuration").
				Wrap(err).
				BuildError()
		}
		fileRegistry = registryFrom(configMap)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.UI.ColorScheme.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithSuggestion("Set ui.color_scheme to auto, dark or light").
			Wrap(err).
			BuildError()
	}
	if cfg.System != "" {
		if _, err := platform.Parse(cfg.System); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("validate configuration").
				WithSuggestion("Use an <arch>-<os> triple such as x86_64-linux").
				Wrap(err).
				BuildError()
		}
	}
	if fileRegistry != nil {
		cfg.Registry = fileRegistry
	}
	if cfg.Registry == nil {
		cfg.Registry = map[string]string{}
	}
	return &cfg, path, nil
}

// FilePath returns the file Load would read, or "" when none exists. An
// explicit path must exist; otherwise the config directory and then the
// working directory are searched.
func FilePath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Run 'appbundle config init' to create a default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	dir := opts.ConfigDirPath
	if dir == "" {
		var err error
		if dir, err = ConfigDir(); err != nil {
			return "", err
		}
	}
	name := ConfigFileName + "." + ConfigFileExt
	for _, candidate := range []string{filepath.Join(dir, name), name} {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

// loadCUEIntoViper validates a CUE file against #Config, merges it into v
// and returns the decoded map. Fields are optional, so validation is not
// concrete and the result is decoded into a map rather than a struct.
func loadCUEIntoViper(v *viper.Viper, path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return nil, err
	}

	ctx := cuecontext.New()
	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return nil, fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}
	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return nil, cueutil.FormatError(userValue.Err(), path)
	}

	unified := schemaValue.LookupPath(cue.ParsePath("#Config")).Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return nil, cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return nil, cueutil.FormatError(err, path)
	}
	merged := maps.Clone(configMap)
	delete(merged, "registry")
	if err := v.MergeConfigMap(merged); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}
	return configMap, nil
}

// registryFrom extracts registry entries from a decoded config file. Viper
// lower-cases keys and splits them on dots, which would corrupt references
// used as keys, so the file's registry bypasses it.
func registryFrom(configMap map[string]any) map[string]string {
	raw, ok := configMap["registry"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default configuration to dir/config.cue
// unless the file already exists. It returns the file path.
func CreateDefaultConfig(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

// GenerateCUE renders cfg as a config file.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// appbundle configuration\n\n")
	fmt.Fprintf(&sb, "store_dir: %q\n", cfg.StoreDir)
	fmt.Fprintf(&sb, "cache_dir: %q\n", cfg.CacheDir)
	fmt.Fprintf(&sb, "default_bundler: %q\n", cfg.DefaultBundler)
	if cfg.System != "" {
		fmt.Fprintf(&sb, "system: %q\n", cfg.System)
	}

	sb.WriteString("\nregistry: {")
	if len(cfg.Registry) > 0 {
		sb.WriteString("\n")
		keys := make([]string, 0, len(cfg.Registry))
		for k := range cfg.Registry {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "\t%q: %q\n", k, cfg.Registry[k])
		}
	}
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	sb.WriteString("}\n")
	return sb.String()
}
