// config.go: Plugin configuration loading
//
// The host passes its configuration directory at load. The bridge looks for
// "<package>.yaml", ".yml", ".json" or ".toml" there, expands ${VAR} and
// ${VAR:-default} placeholders, parses the file with Argus (YAML with
// gopkg.in/yaml.v3), then applies environment overrides named after the
// package: JANUS_PLUGIN_ECHO_DRAIN_TIMEOUT overrides drain_timeout for
// "janus.plugin.echo". A missing file yields the defaults.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agilira/argus"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the bridge settings and the plugin's own section.
type Config struct {
	// DrainTimeout bounds how long teardown waits for in-flight callbacks
	// before logging a warning. Teardown still waits for the state lock.
	DrainTimeout time.Duration `json:"drain_timeout" yaml:"drain_timeout" env:"DRAIN_TIMEOUT"`

	// CopyMediaBuffers makes MediaEvent.Buffer a private copy that the
	// plugin may retain after OnMediaEvent returns.
	CopyMediaBuffers bool `json:"copy_media_buffers" yaml:"copy_media_buffers" env:"COPY_MEDIA_BUFFERS"`

	// EventsEnabled allows SessionContext.NotifyEvent when the host has
	// event handlers enabled too.
	EventsEnabled bool `json:"events_enabled" yaml:"events_enabled" env:"EVENTS_ENABLED"`

	LogLevel      string `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	MetricsPrefix string `json:"metrics_prefix" yaml:"metrics_prefix" env:"METRICS_PREFIX"`

	// TeardownParallelism limits concurrent session teardowns during unload.
	TeardownParallelism int `json:"teardown_parallelism" yaml:"teardown_parallelism" env:"TEARDOWN_PARALLELISM"`

	Watch  WatchConfig  `json:"watch" yaml:"watch" envPrefix:"WATCH_"`
	Health HealthConfig `json:"health" yaml:"health" envPrefix:"HEALTH_"`

	// Plugin is the free-form plugin section, read with Decode.
	Plugin map[string]interface{} `json:"plugin,omitempty" yaml:"plugin,omitempty"`

	// Path is the file the configuration was loaded from, empty for defaults.
	Path string `json:"-" yaml:"-"`
}

// WatchConfig enables hot reload of the configuration file.
type WatchConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled" env:"ENABLED"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" env:"POLL_INTERVAL"`
}

// HealthConfig configures the gRPC health endpoint. An empty Address
// disables it.
type HealthConfig struct {
	Address  string        `json:"address" yaml:"address" env:"ADDRESS"`
	Service  string        `json:"service" yaml:"service" env:"SERVICE"`
	Interval time.Duration `json:"interval" yaml:"interval" env:"INTERVAL"`
}

// DefaultConfig returns the settings used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		DrainTimeout:        5 * time.Second,
		LogLevel:            "info",
		MetricsPrefix:       "gojanus",
		TeardownParallelism: 8,
		Watch: WatchConfig{
			PollInterval: 5 * time.Second,
		},
		Health: HealthConfig{
			Interval: 10 * time.Second,
		},
	}
}

// Validate checks the bridge settings.
func (c *Config) Validate() error {
	if c.DrainTimeout <= 0 {
		return NewConfigValidationError("drain_timeout must be positive", nil)
	}
	if c.TeardownParallelism < 1 {
		return NewConfigValidationError("teardown_parallelism must be at least 1", nil)
	}
	if c.Watch.Enabled && c.Watch.PollInterval < 10*time.Millisecond {
		return NewConfigValidationError("watch.poll_interval must be at least 10ms", nil)
	}
	if c.Health.Address != "" && c.Health.Interval <= 0 {
		return NewConfigValidationError("health.interval must be positive", nil)
	}
	return nil
}

// Decode unmarshals the plugin section into v.
func (c *Config) Decode(v interface{}) error {
	if len(c.Plugin) == 0 {
		return nil
	}
	raw, err := json.Marshal(c.Plugin)
	if err != nil {
		return NewConfigParseError(c.Path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return NewConfigParseError(c.Path, err)
	}
	return nil
}

// clone returns a copy safe to hand to plugin code.
func (c *Config) clone() *Config {
	out := *c
	if c.Plugin != nil {
		out.Plugin = make(map[string]interface{}, len(c.Plugin))
		for k, v := range c.Plugin {
			out.Plugin[k] = v
		}
	}
	return &out
}

// EnvPrefixFor derives the environment override prefix from a package name:
// "janus.plugin.echo" becomes "JANUS_PLUGIN_ECHO_".
func EnvPrefixFor(pkg string) string {
	if pkg == "" {
		return "GOJANUS_"
	}
	upper := strings.ToUpper(pkg)
	upper = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, upper)
	return upper + "_"
}

var configExtensions = []string{".yaml", ".yml", ".json", ".toml"}

// FindConfigFile returns the first configuration file for pkg in dir.
func FindConfigFile(dir, pkg string) (string, bool) {
	if dir == "" || pkg == "" {
		return "", false
	}
	for _, ext := range configExtensions {
		path := filepath.Join(dir, pkg+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// LoadConfig loads the configuration for pkg from the host's configuration
// directory.
func LoadConfig(dir, pkg string) (*Config, error) {
	if path, ok := FindConfigFile(dir, pkg); ok {
		return LoadConfigFile(path, EnvPrefixFor(pkg))
	}

	cfg := DefaultConfig()
	if err := applyEnvOverrides(cfg, EnvPrefixFor(pkg)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads one configuration file and applies environment
// overrides with envPrefix.
func LoadConfigFile(path, envPrefix string) (*Config, error) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewConfigNotFoundError(path)
		}
		return nil, NewConfigParseError(path, err)
	}

	options := DefaultEnvConfigOptions()
	options.Prefix = envPrefix
	expanded, err := ExpandEnvironmentVariables(string(raw), options)
	if err != nil {
		return nil, NewConfigParseError(path, err)
	}

	cfg := DefaultConfig()
	format := argus.DetectFormat(path)
	if err := parseConfigWithHybridStrategy([]byte(expanded), format, cfg); err != nil {
		return nil, NewConfigParseError(path, err)
	}
	cfg.Path = path

	if err := applyEnvOverrides(cfg, envPrefix); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, prefix string) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: prefix}); err != nil {
		return NewConfigValidationError("invalid environment override", err)
	}
	return nil
}

// parseConfigWithHybridStrategy parses YAML with gopkg.in/yaml.v3 and every
// other format with Argus.
func parseConfigWithHybridStrategy(configBytes []byte, format argus.ConfigFormat, config *Config) error {
	switch format {
	case argus.FormatYAML:
		if err := yaml.Unmarshal(configBytes, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
		return nil

	default:
		configMap, err := argus.ParseConfig(configBytes, format)
		if err != nil {
			return err
		}
		return bindConfig(configMap, config)
	}
}

// durationKeys are the dotted paths of duration settings, which may be
// written as strings such as "5s" in JSON and TOML.
var durationKeys = [][]string{
	{"drain_timeout"},
	{"watch", "poll_interval"},
	{"health", "interval"},
}

// bindConfig converts a parsed map into Config through JSON.
func bindConfig(configMap map[string]interface{}, config *Config) error {
	if configMap == nil {
		return fmt.Errorf("configuration map is nil")
	}

	for _, key := range durationKeys {
		if err := normalizeDuration(configMap, key); err != nil {
			return err
		}
	}

	jsonBytes, err := json.Marshal(configMap)
	if err != nil {
		return fmt.Errorf("failed to marshal config map to JSON: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

func normalizeDuration(m map[string]interface{}, path []string) error {
	for len(path) > 1 {
		next, ok := m[path[0]].(map[string]interface{})
		if !ok {
			return nil
		}
		m, path = next, path[1:]
	}
	value, ok := m[path[0]].(string)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", path[0], err)
	}
	m[path[0]] = int64(d)
	return nil
}
