package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Sensor   SensorConfig  `yaml:"sensor"`
	Interval time.Duration `yaml:"interval"`
	Log      LogConfig     `yaml:"log"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

type SensorConfig struct {
	// Transport is "spi" or "bitbang".
	Transport  string        `yaml:"transport"`
	Bus        string        `yaml:"bus"`
	CS         string        `yaml:"cs"`
	CLK        string        `yaml:"clk"`
	MISO       string        `yaml:"miso"`
	HalfPeriod time.Duration `yaml:"half_period"`
	Linearize  bool          `yaml:"linearize"`
	Fahrenheit bool          `yaml:"fahrenheit"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

func DefaultConfig() *Config {
	return &Config{
		Sensor: SensorConfig{
			Transport:  "spi",
			HalfPeriod: time.Millisecond,
		},
		Interval: time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Listen: ":9155",
		},
	}
}

// LoadConfig reads path on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Sensor.Transport {
	case "spi":
	case "bitbang":
		if c.Sensor.CLK == "" || c.Sensor.CS == "" || c.Sensor.MISO == "" {
			return errors.New("config: bitbang transport needs clk, cs and miso pins")
		}
		if c.Sensor.HalfPeriod < 0 {
			return errors.New("config: half_period must not be negative")
		}
	default:
		return fmt.Errorf("config: unknown transport %q", c.Sensor.Transport)
	}
	if c.Interval <= 0 {
		return errors.New("config: interval must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return errors.New("config: metrics enabled without listen address")
	}
	return nil
}
