// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the tecstat YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/tecstat/pkg/tec"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial     SerialConfig      `yaml:"serial"`
	WebSocket  WebSocketConfig   `yaml:"websocket"`
	Controller ControllerConfig  `yaml:"controller"`
	Log        LogConfig         `yaml:"log"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Redis      RedisConfig       `yaml:"redis"`
	Parameters []ParameterConfig `yaml:"parameters"`
}

type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type WebSocketConfig struct {
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

type ControllerConfig struct {
	Instance        int           `yaml:"instance"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	VerifyChecksum  bool          `yaml:"verify_checksum"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"` // text or json
	Output   string `yaml:"output"` // stdout, stderr or file
	FilePath string `yaml:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	Channel    string `yaml:"channel"`
	KeyPrefix  string `yaml:"key_prefix"`
	HistoryLen int64  `yaml:"history_len"`
}

// ParameterConfig describes one parameter of a custom registry
type ParameterConfig struct {
	Name   string `yaml:"name"`
	ID     uint16 `yaml:"id"`
	Type   string `yaml:"type"`   // int32 or float32
	Access string `yaml:"access"` // ro or rw
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Baud: 57600,
		},
		Controller: ControllerConfig{
			Instance:        1,
			ResponseTimeout: time.Second,
			VerifyChecksum:  true,
			RefreshInterval: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Listen: ":9110",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   4,
			Channel:    "tecstat:state",
			KeyPrefix:  "tecstat",
			HistoryLen: 1000,
		},
	}
}

// Load reads path on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and the parameter list
func (c *Config) Validate() error {
	var errs []error

	if c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
	}
	if c.Controller.Instance < tec.MinInstance || c.Controller.Instance > tec.MaxInstance {
		errs = append(errs, fmt.Errorf("controller.instance must be %d-%d, got %d",
			tec.MinInstance, tec.MaxInstance, c.Controller.Instance))
	}
	if c.Controller.ResponseTimeout < 0 {
		errs = append(errs, errors.New("controller.response_timeout must not be negative"))
	}
	if c.Controller.RefreshInterval <= 0 {
		errs = append(errs, errors.New("controller.refresh_interval must be positive"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	switch c.Log.Output {
	case "stdout", "stderr":
	case "file":
		if c.Log.FilePath == "" {
			errs = append(errs, errors.New("log.file_path is required for file output"))
		}
	default:
		errs = append(errs, fmt.Errorf("log.output must be stdout, stderr or file, got %q", c.Log.Output))
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
		}
		if c.Redis.HistoryLen < 0 {
			errs = append(errs, errors.New("redis.history_len must not be negative"))
		}
	}
	if len(c.Parameters) > 0 {
		if _, err := c.Registry(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Registry builds the parameter registry. An empty parameter list selects
// the built-in set.
func (c *Config) Registry() (*tec.Registry, error) {
	if len(c.Parameters) == 0 {
		return tec.DefaultRegistry(), nil
	}

	params := make([]tec.ParameterDescriptor, 0, len(c.Parameters))
	for _, p := range c.Parameters {
		vt, err := tec.ParseValueType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		access, err := tec.ParseAccess(p.Access)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		params = append(params, tec.ParameterDescriptor{
			ID:     p.ID,
			Name:   p.Name,
			Type:   vt,
			Access: access,
		})
	}
	return tec.NewRegistryFromList(params)
}

// Instance returns the configured instance as a protocol value
func (c *Config) Instance() uint8 {
	return uint8(c.Controller.Instance)
}
