package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Region != "us-east-1" {
		t.Errorf("region: got %q, want us-east-1", cfg.Region)
	}
	if cfg.Family != "bia-tf" {
		t.Errorf("family: got %q, want bia-tf", cfg.Family)
	}
	if cfg.Repository != "bia-app" {
		t.Errorf("repository: got %q, want bia-app", cfg.Repository)
	}
	if cfg.WaitTimeout != 10*time.Minute {
		t.Errorf("wait timeout: got %v, want 10m", cfg.WaitTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
cluster = "prod-cluster"
family = "api-tf"
wait_timeout = "3m"
poll_interval = "2s"
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cluster != "prod-cluster" {
		t.Errorf("cluster: got %q, want prod-cluster", cfg.Cluster)
	}
	if cfg.Family != "api-tf" {
		t.Errorf("family: got %q, want api-tf", cfg.Family)
	}
	if cfg.Service != "bia-service" {
		t.Errorf("service should keep its default, got %q", cfg.Service)
	}
	if cfg.WaitTimeout != 3*time.Minute {
		t.Errorf("wait timeout: got %v, want 3m", cfg.WaitTimeout)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("poll interval: got %v, want 2s", cfg.PollInterval)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(`cluster = "from-file"`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BIA_CLUSTER", "from-env")
	t.Setenv("AWS_REGION", "sa-east-1")
	t.Setenv("BIA_REPOSITORY", "side-app")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cluster != "from-env" {
		t.Errorf("cluster: got %q, want from-env", cfg.Cluster)
	}
	if cfg.Region != "sa-east-1" {
		t.Errorf("region: got %q, want sa-east-1", cfg.Region)
	}
	if cfg.Repository != "side-app" {
		t.Errorf("repository: got %q, want side-app", cfg.Repository)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing region", func(c *Config) { c.Region = "" }},
		{"missing cluster", func(c *Config) { c.Cluster = "" }},
		{"missing service", func(c *Config) { c.Service = "" }},
		{"missing family", func(c *Config) { c.Family = "" }},
		{"missing repository", func(c *Config) { c.Repository = "" }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLogGroup(t *testing.T) {
	cfg := Default()
	if got := cfg.LogGroup(); got != "/ecs/bia-tf" {
		t.Errorf("log group: got %q, want /ecs/bia-tf", got)
	}
}

func TestBadConfigFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(`cluster = [`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("expected parse error, got nil")
	}
}
