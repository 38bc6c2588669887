// Package config loads the authbridge configuration: YAML file first, env
// overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
		// Log level: debug | info | warn | error
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Provider struct {
		BaseURL  string `yaml:"base_url"`
		ClientID string `yaml:"client_id"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"provider"`

	Exchange struct {
		// Timeout forces an in-flight exchange to the error state after the
		// bound; empty disables the forced timeout.
		Timeout string `yaml:"timeout"`
	} `yaml:"exchange"`

	Vault struct {
		// Path of the sealed token file. Empty keeps tokens in memory only.
		Path string `yaml:"path"`
	} `yaml:"vault"`

	Intake struct {
		ReplayTTL string `yaml:"replay_ttl"`
		Buffer    int    `yaml:"buffer"`
		Cache     struct {
			Driver string `yaml:"driver"`
			Redis  struct {
				Addr     string `yaml:"addr"`
				Password string `yaml:"password"`
				DB       int    `yaml:"db"`
				Prefix   string `yaml:"prefix"`
			} `yaml:"redis"`
		} `yaml:"cache"`
	} `yaml:"intake"`
}

// Load reads path (optional; empty means defaults + env only), applies
// defaults and env overrides, and validates duration fields.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8085"
	}
	if c.Provider.Timeout == "" {
		c.Provider.Timeout = "10s"
	}
	if c.Intake.ReplayTTL == "" {
		c.Intake.ReplayTTL = "5m"
	}
	if c.Intake.Buffer == 0 {
		c.Intake.Buffer = 8
	}
	if c.Intake.Cache.Driver == "" {
		c.Intake.Cache.Driver = "memory"
	}
	if c.Intake.Cache.Redis.Prefix == "" {
		c.Intake.Cache.Redis.Prefix = "authbridge"
	}

	// env overrides
	if v, ok := getEnvStr("AUTHBRIDGE_ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("AUTHBRIDGE_LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}
	if v, ok := getEnvStr("AUTHBRIDGE_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("AUTHBRIDGE_PROVIDER_URL"); ok {
		c.Provider.BaseURL = v
	}
	if v, ok := getEnvStr("AUTHBRIDGE_CLIENT_ID"); ok {
		c.Provider.ClientID = v
	}
	if v, ok := getEnvStr("AUTHBRIDGE_VAULT_PATH"); ok {
		c.Vault.Path = v
	}
	if v, ok := getEnvStr("AUTHBRIDGE_CACHE_DRIVER"); ok {
		c.Intake.Cache.Driver = v
	}
	if v, ok := getEnvStr("AUTHBRIDGE_REDIS_ADDR"); ok {
		c.Intake.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("AUTHBRIDGE_REDIS_DB"); ok {
		c.Intake.Cache.Redis.DB = v
	}

	for name, s := range map[string]string{
		"provider.timeout":  c.Provider.Timeout,
		"intake.replay_ttl": c.Intake.ReplayTTL,
	} {
		if _, err := time.ParseDuration(s); err != nil {
			return nil, fmt.Errorf("invalid duration for %s: %q", name, s)
		}
	}
	if c.Exchange.Timeout != "" {
		if _, err := time.ParseDuration(c.Exchange.Timeout); err != nil {
			return nil, fmt.Errorf("invalid duration for exchange.timeout: %q", c.Exchange.Timeout)
		}
	}
	return &c, nil
}

// ProviderTimeout returns the parsed provider call timeout.
func (c *Config) ProviderTimeout() time.Duration {
	return mustDur(c.Provider.Timeout)
}

// ExchangeTimeout returns the forced-timeout bound, 0 when disabled.
func (c *Config) ExchangeTimeout() time.Duration {
	if c.Exchange.Timeout == "" {
		return 0
	}
	return mustDur(c.Exchange.Timeout)
}

// ReplayTTL returns the replay-guard window.
func (c *Config) ReplayTTL() time.Duration {
	return mustDur(c.Intake.ReplayTTL)
}

// mustDur is safe after Load validated the field.
func mustDur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
