package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Agent configures the gyro-agent. It is read from an optional YAML file;
// command-line flags override individual values.
type Agent struct {
	GatewayURL     string        `yaml:"gateway_url"`
	Token          string        `yaml:"token"`
	DeviceID       string        `yaml:"device_id"`
	Source         string        `yaml:"source"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	Buffer         BufferConfig  `yaml:"buffer"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	ShutdownFlush  time.Duration `yaml:"shutdown_flush"`
}

type BufferConfig struct {
	FlushInterval  time.Duration `yaml:"flush_interval"`
	MaxRecords     int           `yaml:"max_records"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// LoadAgent reads path (if non-empty), applies defaults and validates.
func LoadAgent(path string) (*Agent, error) {
	var cfg Agent
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Agent) ApplyDefaults() {
	if c.GatewayURL == "" {
		c.GatewayURL = env("GATEWAY_URL", "http://localhost:8099/")
	}
	// Bearer token for the gateway; only dev gateways accept requests without one.
	if c.Token == "" {
		c.Token = env("GATEWAY_TOKEN", "")
	}
	if c.Source == "" {
		c.Source = "sim"
	}
	if c.SampleInterval == 0 {
		c.SampleInterval = time.Second
	}
	if c.Buffer.FlushInterval == 0 {
		c.Buffer.FlushInterval = 5 * time.Second
	}
	if c.Buffer.MaxRecords == 0 {
		c.Buffer.MaxRecords = 10_000
	}
	if c.Buffer.InitialBackoff == 0 {
		c.Buffer.InitialBackoff = c.Buffer.FlushInterval
	}
	if c.Buffer.MaxBackoff == 0 {
		c.Buffer.MaxBackoff = time.Minute
	}
	if c.ShutdownFlush == 0 {
		c.ShutdownFlush = 5 * time.Second
	}
}

func (c *Agent) Validate() error {
	u, err := url.Parse(c.GatewayURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("gateway_url %q is not an absolute URL", c.GatewayURL)
	}
	switch c.Source {
	case "sim", "stdin":
	default:
		return fmt.Errorf("source must be sim or stdin, got %q", c.Source)
	}
	if c.Buffer.MaxRecords < 0 {
		return fmt.Errorf("buffer.max_records must be positive")
	}
	if c.Buffer.MaxBackoff < c.Buffer.InitialBackoff {
		return fmt.Errorf("buffer.max_backoff must be >= buffer.initial_backoff")
	}
	return nil
}
