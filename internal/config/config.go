// Package config assembles the immutable tool configuration from compiled
// defaults, an optional bia.toml in the working directory, environment
// variables, and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ConfigFile is the optional per-project configuration file name.
const ConfigFile = "bia.toml"

// Config holds everything the deploy pipeline needs. Built once at process
// start and passed into constructors; never mutated afterwards.
type Config struct {
	Region     string `toml:"region"`
	Cluster    string `toml:"cluster"`
	Service    string `toml:"service"`
	Family     string `toml:"family"`
	Repository string `toml:"repository"`

	// ContainerPort is the port the bootstrap task definition exposes.
	ContainerPort int `toml:"container_port"`

	// BuildContext is the Docker build context directory.
	BuildContext string `toml:"build_context"`
	Dockerfile   string `toml:"dockerfile"`

	WaitTimeout  time.Duration `toml:"-"`
	PollInterval time.Duration `toml:"-"`

	// EndpointURL points every AWS client at a custom endpoint
	// (simulator mode). Empty in normal operation.
	EndpointURL string `toml:"endpoint_url"`

	// DockerHost overrides the Docker daemon address. Empty means the
	// client's usual environment resolution.
	DockerHost string `toml:"docker_host"`

	LogLevel string `toml:"log_level"`
}

// fileConfig mirrors Config for toml decoding, with durations as strings.
type fileConfig struct {
	Config
	WaitTimeout  string `toml:"wait_timeout"`
	PollInterval string `toml:"poll_interval"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Region:        "us-east-1",
		Cluster:       "bia-cluster",
		Service:       "bia-service",
		Family:        "bia-tf",
		Repository:    "bia-app",
		ContainerPort: 80,
		BuildContext:  ".",
		Dockerfile:    "Dockerfile",
		WaitTimeout:   10 * time.Minute,
		PollInterval:  15 * time.Second,
		LogLevel:      "info",
	}
}

// Load builds the configuration from defaults, the optional config file in
// dir, and the environment. Flag overrides are applied by the CLI layer
// after Load.
func Load(dir string) (Config, error) {
	cfg := Default()

	path := filepath.Join(dir, ConfigFile)
	if _, err := os.Stat(path); err == nil {
		var fc fileConfig
		fc.Config = cfg
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", ConfigFile, err)
		}
		cfg = fc.Config
		if fc.WaitTimeout != "" {
			d, err := time.ParseDuration(fc.WaitTimeout)
			if err != nil {
				return Config{}, fmt.Errorf("parsing %s: wait_timeout: %w", ConfigFile, err)
			}
			cfg.WaitTimeout = d
		}
		if fc.PollInterval != "" {
			d, err := time.ParseDuration(fc.PollInterval)
			if err != nil {
				return Config{}, fmt.Errorf("parsing %s: poll_interval: %w", ConfigFile, err)
			}
			cfg.PollInterval = d
		}
	}

	cfg.Region = envOrDefault("AWS_REGION", cfg.Region)
	cfg.Cluster = envOrDefault("BIA_CLUSTER", cfg.Cluster)
	cfg.Service = envOrDefault("BIA_SERVICE", cfg.Service)
	cfg.Family = envOrDefault("BIA_FAMILY", cfg.Family)
	cfg.Repository = envOrDefault("BIA_REPOSITORY", cfg.Repository)
	cfg.EndpointURL = envOrDefault("BIA_ENDPOINT_URL", cfg.EndpointURL)
	cfg.DockerHost = envOrDefault("BIA_DOCKER_HOST", cfg.DockerHost)
	cfg.LogLevel = envOrDefault("BIA_LOG_LEVEL", cfg.LogLevel)

	return cfg, nil
}

// Validate checks required configuration.
func (c Config) Validate() error {
	if c.Region == "" {
		return errors.New("region is required")
	}
	if c.Cluster == "" {
		return errors.New("cluster name is required")
	}
	if c.Service == "" {
		return errors.New("service name is required")
	}
	if c.Family == "" {
		return errors.New("task definition family is required")
	}
	if c.Repository == "" {
		return errors.New("repository name is required")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}

// LogGroup is the CloudWatch Logs group the bootstrap task definition
// writes to.
func (c Config) LogGroup() string {
	return "/ecs/" + c.Family
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
