package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/drone/envsubst"
	"gopkg.in/yaml.v3"
)

// Config holds the worker settings that can be read from a YAML file.
// String values may reference environment variables as ${NAME}.
type Config struct {
	MaxWorkers       int           `yaml:"maxWorkers"`
	Protocol         string        `yaml:"protocol"`
	CPUUsageBeforeGC time.Duration `yaml:"cpuUsageBeforeGc"`
	LogLevel         string        `yaml:"logLevel"`
	TempDir          string        `yaml:"tempDir"`
	CaptureStdio     bool          `yaml:"captureStdio"`
	Trace            bool          `yaml:"trace"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		MaxWorkers:       runtime.NumCPU(),
		Protocol:         "proto",
		CPUUsageBeforeGC: 10 * time.Second,
		LogLevel:         "info",
		CaptureStdio:     true,
	}
}

// ParseConfig reads a YAML document on top of the defaults.
func ParseConfig(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	for _, s := range []*string{&c.Protocol, &c.LogLevel, &c.TempDir} {
		v, err := envsubst.EvalEnv(*s)
		if err != nil {
			return nil, err
		}
		*s = v
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FromFile reads the config file at f.
func FromFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

// Validate reports settings no worker can run with.
func (c *Config) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("maxWorkers must be at least 1, got %d", c.MaxWorkers)
	}
	if c.CPUUsageBeforeGC < 0 {
		return fmt.Errorf("cpuUsageBeforeGc must not be negative, got %s", c.CPUUsageBeforeGC)
	}
	return nil
}
