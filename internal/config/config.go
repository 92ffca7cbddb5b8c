// Package config loads a RepCRec run configuration from an optional YAML
// file, with CLI flags taking precedence over file values.
//
// Grounded on cuemby-warren's pattern of a plain struct unmarshaled with
// gopkg.in/yaml.v3 and then overridden by spf13/cobra flags.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/blr246/adbs-repcrec/internal/rcerr"
)

// Config is a full run configuration.
type Config struct {
	Sites    int    `yaml:"sites"`
	Vars     int    `yaml:"variables"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the baseline configuration used when no file and no
// flags override it: 10 sites, 20 variables, in-memory only, info logging.
func Default() Config {
	return Config{Sites: 10, Vars: 20, DataDir: "", LogLevel: "info"}
}

// Load reads and parses a YAML config file. An empty path is not an error;
// it returns the zero Config so the caller can layer Default() and flags.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &rcerr.ConfigError{Msg: "reading config file: " + err.Error()}
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, &rcerr.ConfigError{Msg: "parsing config file: " + err.Error()}
	}
	return c, nil
}

// Merge overlays non-zero fields of override onto base, returning the
// result. Used to apply file values over defaults, then flag values over
// the result.
func Merge(base, override Config) Config {
	out := base
	if override.Sites != 0 {
		out.Sites = override.Sites
	}
	if override.Vars != 0 {
		out.Vars = override.Vars
	}
	if override.DataDir != "" {
		out.DataDir = override.DataDir
	}
	if override.LogLevel != "" {
		out.LogLevel = override.LogLevel
	}
	return out
}

// Validate reports a ConfigError if the configuration is unusable.
func (c Config) Validate() error {
	if c.Sites < 1 {
		return &rcerr.ConfigError{Msg: "sites must be positive"}
	}
	if c.Vars < 1 {
		return &rcerr.ConfigError{Msg: "variables must be positive"}
	}
	return nil
}
