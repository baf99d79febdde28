package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML configuration file. Environment
// variables override file values; command-line flags override both.
type fileConfig struct {
	Daemon struct {
		Host   string `yaml:"host"`
		Port   int    `yaml:"port"`
		Socket string `yaml:"socket"`
		TLS    bool   `yaml:"tls"`
	} `yaml:"daemon"`
	Client struct {
		Username       string `yaml:"username"`
		MaxSize        int    `yaml:"max_size"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		SafeFallback   bool   `yaml:"safe_fallback"`
		Compress       bool   `yaml:"compress"`
	} `yaml:"client"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.applyEnvVars()
	return cfg, nil
}

func (c *fileConfig) applyEnvVars() {
	if v := os.Getenv("SHRIKE_HOST"); v != "" {
		c.Daemon.Host = v
	}
	if v := os.Getenv("SHRIKE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Daemon.Port = n
		}
	}
	if v := os.Getenv("SHRIKE_SOCKET"); v != "" {
		c.Daemon.Socket = v
	}
	if v := os.Getenv("SHRIKE_USERNAME"); v != "" {
		c.Client.Username = v
	}
	if v := os.Getenv("SHRIKE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
