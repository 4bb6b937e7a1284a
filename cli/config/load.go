// Package config handles YAML config file loading for kaolin serve.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config files reference secrets as ${VAR} or ${VAR:-default}. Bare
// $VAR stays untouched so literal dollar values in YAML survive.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// expandEnv resolves every ${VAR} reference in the raw config text. An
// unset or empty variable falls back to its :-default, or to the empty
// string; missing required values surface in Config.Validate rather
// than here.
func expandEnv(input string) string {
	return envRef.ReplaceAllStringFunc(input, func(ref string) string {
		name, fallback, _ := strings.Cut(ref[2:len(ref)-1], ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		return fallback
	})
}

// Load reads a YAML config file, expands environment variables, and
// unmarshals into a Config struct with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	expanded := expandEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadOptional behaves like Load but returns a default Config when path
// is empty, so serve can run on flags and env alone.
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		cfg := &Config{}
		cfg.ApplyDefaults()
		return cfg, nil
	}
	return Load(path)
}
