// Package config loads the bridge configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Bigsy/thunderbird-bridge/internal/backend"
	"github.com/Bigsy/thunderbird-bridge/internal/bridge"
)

const (
	configDir  = ".config/thunderbird-bridge"
	configFile = "config.yaml"
)

// Config is the bridge configuration. The zero value of every field means
// "use the default".
type Config struct {
	BackendURL      string        `yaml:"backendUrl"`
	Timeout         time.Duration `yaml:"timeout"`
	LogLevel        string        `yaml:"logLevel"`
	MetricsAddr     string        `yaml:"metricsAddr"`
	ServerName      string        `yaml:"serverName"`
	ServerVersion   string        `yaml:"serverVersion"`
	ProtocolVersion string        `yaml:"protocolVersion"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BackendURL:      backend.DefaultURL,
		Timeout:         backend.DefaultTimeout,
		LogLevel:        "info",
		ServerName:      bridge.DefaultServerName,
		ServerVersion:   bridge.DefaultServerVersion,
		ProtocolVersion: bridge.DefaultProtocolVersion,
	}
}

// ConfigPath returns the full path to the config file.
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, configDir, configFile), nil
}

// Load reads the configuration from the default path.
// Returns the defaults if the file doesn't exist.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the configuration from a specific path. Fields missing from
// the file keep their defaults. Returns the defaults if the file doesn't exist.
func LoadFrom(path string) (*Config, error) {
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration can be used to start the bridge.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("backendUrl is required")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("invalid backendUrl: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid backendUrl %q: scheme must be http or https", c.BackendURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid backendUrl %q: missing host", c.BackendURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// BackendOptions returns the back-end client settings.
func (c *Config) BackendOptions() backend.Options {
	return backend.Options{URL: c.BackendURL, Timeout: c.Timeout}
}

// BridgeOptions returns the identity reported from initialize.
func (c *Config) BridgeOptions() bridge.Options {
	return bridge.Options{
		ServerName:      c.ServerName,
		ServerVersion:   c.ServerVersion,
		ProtocolVersion: c.ProtocolVersion,
	}
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
