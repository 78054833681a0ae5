// Package config builds the ambient Args map an execution starts with,
// merging an optional config file with environment variable overrides
// the way a viper-backed service binary layers env vars on top of a
// config file before constructing its own config struct.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Options controls how Load builds the ambient Args map.
type Options struct {
	// File is an optional path to a config file (any format viper
	// recognizes by extension: yaml, json, toml, ...). Empty means no
	// file is read.
	File string

	// EnvPrefix, if set, is prepended (joined with an underscore) to the
	// environment variable name looked up for each key. A key is looked
	// up uppercased, with dots and dashes turned into underscores. Only
	// keys present in Defaults or File are looked up; an environment
	// variable whose key appears in neither is not picked up.
	EnvPrefix string

	// Defaults seeds the lowest-priority layer; File overrides Defaults,
	// and environment variables override File.
	Defaults map[string]any
}

// Load builds a map[string]any suitable for taski.WithArgs, layering
// Defaults, then File, then environment variables (highest priority),
// the same precedence order viper itself uses internally.
func Load(opts Options) (map[string]any, error) {
	v := viper.New()

	for k, val := range opts.Defaults {
		v.SetDefault(k, val)
	}

	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	return v.AllSettings(), nil
}
