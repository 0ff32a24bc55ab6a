// Package config resolves ldmini's configuration from an optional YAML
// file, environment variables, and struct-tag defaults, the same layering
// davejbax-pixie uses for its own cmd/pixie config: creasty/defaults
// populates zero fields, then spf13/viper overlays file and environment
// values via go-viper/mapstructure/v2.
package config

import (
	"os"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/xyproto/ldmini/internal/linkerr"
)

// Config mirrors the CLI option table of §6 one field per option.
type Config struct {
	Output          string   `mapstructure:"output" default:"a.out"`
	SearchPaths     []string `mapstructure:"search_paths"`
	Libraries       []string `mapstructure:"libraries"`
	Entry           string   `mapstructure:"entry" default:"main"`
	TextSegmentBase uint64   `mapstructure:"text_segment_base" default:"4194304"` // 0x400000
	Static          bool     `mapstructure:"static" default:"true"`
}

// Load builds a Config from defaults, an optional YAML file at
// configPath (skipped if empty), and the LIBRARY_PATH/LD_LIBRARY_PATH
// environment variables, which are appended to SearchPaths in that
// order. Flags the CLI already parsed take precedence and are applied by
// the caller after Load returns.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, linkerr.Wrap(linkerr.UsageError, err, "applying configuration defaults")
	}

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, linkerr.Wrap(linkerr.UsageError, err, "reading config file %q", configPath)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, linkerr.Wrap(linkerr.UsageError, err, "decoding config file %q", configPath)
		}
	}

	cfg.SearchPaths = append(cfg.SearchPaths, envSearchPaths()...)
	return cfg, nil
}

// ApplyOverrides merges CLI-flag-sourced values (collected by the caller
// as a plain map, one entry per flag the user actually set) onto cfg,
// using mapstructure.Decode directly rather than another viper layer —
// there is no file or environment source involved here, just a map a
// cobra RunE already built.
func ApplyOverrides(cfg *Config, overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return linkerr.Wrap(linkerr.UsageError, err, "building flag-override decoder")
	}
	if err := decoder.Decode(overrides); err != nil {
		return linkerr.Wrap(linkerr.UsageError, err, "applying flag overrides")
	}
	return nil
}

func envSearchPaths() []string {
	var out []string
	for _, name := range []string{"LIBRARY_PATH", "LD_LIBRARY_PATH"} {
		val := os.Getenv(name)
		if val == "" {
			continue
		}
		out = append(out, strings.Split(val, ":")...)
	}
	return out
}
