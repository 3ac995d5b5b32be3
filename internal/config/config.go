package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models slnforge.yml.
type Config struct {
	Output struct {
		Root    string `yaml:"root"`
		Archive bool   `yaml:"archive"`
	} `yaml:"output"`
	Tool struct {
		ExecPath       string `yaml:"exec_path"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		Retries        int    `yaml:"retries"`
		RetryDelayMS   int    `yaml:"retry_delay_ms"`
	} `yaml:"tool"`
	Workers struct {
		Count     int `yaml:"count"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"workers"`
	Jobs struct {
		RetentionMinutes int    `yaml:"retention_minutes"`
		PruneSchedule    string `yaml:"prune_schedule"`
	} `yaml:"jobs"`
	Server struct {
		Addr                   string `yaml:"addr"`
		BasePath               string `yaml:"base_path"`
		ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Output.Root) == "" {
		return fmt.Errorf("config.output.root is required")
	}
	if strings.TrimSpace(c.Tool.ExecPath) == "" {
		return fmt.Errorf("config.tool.exec_path is required")
	}
	if c.Tool.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.tool.timeout_seconds must be positive")
	}
	if c.Tool.Retries < 0 {
		return fmt.Errorf("config.tool.retries must not be negative")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("config.workers.count must be positive")
	}
	if c.Workers.QueueSize <= 0 {
		return fmt.Errorf("config.workers.queue_size must be positive")
	}
	if c.Jobs.RetentionMinutes < 0 {
		return fmt.Errorf("config.jobs.retention_minutes must not be negative")
	}
	if c.Jobs.PruneSchedule != "" {
		if _, err := cron.ParseStandard(c.Jobs.PruneSchedule); err != nil {
			return fmt.Errorf("config.jobs.prune_schedule: %w", err)
		}
	}
	if c.Server.ShutdownTimeoutSeconds < 0 {
		return fmt.Errorf("config.server.shutdown_timeout_seconds must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, evt := range hook.Events {
			if !strings.HasPrefix(evt, "generation.") {
				return fmt.Errorf("config.webhooks[%d] has unknown event %s", i, evt)
			}
		}
	}
	return nil
}

// ToolTimeout returns the hard limit for one external tool call.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Tool.TimeoutSeconds) * time.Second
}

// RetryDelay returns the pause between transient-failure retries.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Tool.RetryDelayMS) * time.Millisecond
}

// Retention returns how long terminal jobs are kept; zero keeps them forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Jobs.RetentionMinutes) * time.Minute
}

// ShutdownTimeout bounds how long serve waits for running jobs on exit.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// Path returns the config file path inside a directory.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "slnforge.yml")
}

// Load reads and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with slnforge config default > %s", path, path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() if the config file does not exist.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults and
// validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `output:
  root: ./generated
  archive: false

tool:
  exec_path: dotnet
  timeout_seconds: 120
  retries: 2
  retry_delay_ms: 250

workers:
  count: 4
  queue_size: 64

jobs:
  retention_minutes: 1440
  prune_schedule: "*/10 * * * *"

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  shutdown_timeout_seconds: 30

log:
  level: info
  format: text

webhooks: []
`
