// Package config handles configuration for hahaha.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/labels"
)

// DefaultConfigFile is read when --config is not given. It may be absent.
const DefaultConfigFile = "/etc/hahaha/config.yaml"

// Config holds all hahaha configuration.
type Config struct {
	LabelSelector   string        `yaml:"labelSelector"`
	Namespace       string        `yaml:"namespace"` // empty watches all namespaces
	MetricsPort     int           `yaml:"metricsPort"`
	LogLevel        string        `yaml:"logLevel"`  // debug, info, warn, error
	LogFormat       string        `yaml:"logFormat"` // text, json
	DispatchTimeout time.Duration `yaml:"dispatchTimeout"`
	Kubeconfig      string        `yaml:"kubeconfig"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LabelSelector:   "nais.io/ginuudan=enabled",
		MetricsPort:     8999,
		LogLevel:        "info",
		LogFormat:       "text",
		DispatchTimeout: 30 * time.Second,
	}
}

// Load reads defaults, then the YAML file at path, then environment
// variables. A missing file is only an error when the path was given
// explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("HAHAHA_LABEL_SELECTOR"); ok {
		c.LabelSelector = v
	}
	if v, ok := lookup("HAHAHA_NAMESPACE"); ok {
		c.Namespace = v
	}
	if v, ok := lookup("HAHAHA_METRICS_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HAHAHA_METRICS_PORT: %w", err)
		}
		c.MetricsPort = n
	}
	if v, ok := lookup("HAHAHA_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("HAHAHA_LOG_FORMAT"); ok {
		c.LogFormat = v
	}
	if v, ok := lookup("HAHAHA_DISPATCH_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HAHAHA_DISPATCH_TIMEOUT: %w", err)
		}
		c.DispatchTimeout = d
	}
	if v, ok := lookup("KUBECONFIG"); ok && c.Kubeconfig == "" {
		c.Kubeconfig = v
	}
	return nil
}

// Validate checks that the configuration can be used to start the controller.
func (c *Config) Validate() error {
	if c.LabelSelector == "" {
		return errors.New("label selector must not be empty")
	}
	if _, err := labels.Parse(c.LabelSelector); err != nil {
		return fmt.Errorf("label selector %q: %w", c.LabelSelector, err)
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics port %d out of range", c.MetricsPort)
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch timeout must be positive, got %s", c.DispatchTimeout)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level %q: want debug, info, warn or error", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log format %q: want text or json", c.LogFormat)
	}
	return nil
}

// MetricsAddr is the listen address for the metrics server.
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf(":%d", c.MetricsPort)
}
