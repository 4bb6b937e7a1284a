package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents a kaolin.yaml configuration file.
// All values are optional and act as defaults for kaolin serve flags.
// CLI flags always override config values.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Store     StoreConfig     `yaml:"store"`
	Engine    EngineConfig    `yaml:"engine"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Loop      LoopConfig      `yaml:"loop"`
}

// ServerConfig holds HTTP listener defaults from the config file.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// RedisConfig holds lock and state cache defaults from the config file.
type RedisConfig struct {
	URL     string   `yaml:"url"`
	LockTTL Duration `yaml:"lock_ttl"`
}

// WorkspaceConfig holds object storage defaults from the config file.
type WorkspaceConfig struct {
	Bucket      string   `yaml:"bucket"`
	Region      string   `yaml:"region"`
	Endpoint    string   `yaml:"endpoint"`
	S3PathStyle bool     `yaml:"s3_path_style"`
	PresignTTL  Duration `yaml:"presign_ttl"`
}

// StoreConfig holds metadata store defaults from the config file.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Schema string `yaml:"schema"`
}

// EngineConfig holds reasoning engine defaults from the config file.
type EngineConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// SandboxConfig holds execution service defaults from the config file.
type SandboxConfig struct {
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Retries *int     `yaml:"retries,omitempty"`
}

// LoopConfig holds reasoning loop defaults from the config file.
type LoopConfig struct {
	AgentName string `yaml:"agent_name"`
	Budget    int    `yaml:"budget"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ApplyDefaults fills values the server can default without operator input.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		c.Server.ShutdownTimeout.Duration = 15 * time.Second
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Engine.Provider == "" {
		c.Engine.Provider = "openai"
	}
}

// Validate checks the settings a server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required"))
	}
	if c.Workspace.Bucket == "" {
		errs = append(errs, errors.New("workspace.bucket is required"))
	}
	if c.Sandbox.URL == "" {
		errs = append(errs, errors.New("sandbox.url is required"))
	}
	if c.Store.Driver == "postgrest" && c.Store.URL == "" {
		errs = append(errs, errors.New("store.url is required for the postgrest driver"))
	}
	return errors.Join(errs...)
}
