package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the full runtime configuration of the gateway.
type Config struct {
	Port              int    `yaml:"port" json:"port"`
	Debug             bool   `yaml:"debug" json:"debug"`
	LogFile           string `yaml:"log_file" json:"log_file"`
	ManagementKeyHash string `yaml:"management_key_hash" json:"management_key_hash"`

	// Backend endpoints in priority order; the first entry is the primary.
	Endpoints []string `yaml:"endpoints" json:"endpoints"`

	RequestTimeoutSec int `yaml:"request_timeout_sec" json:"request_timeout_sec"`
	// MaxAttempts caps how many candidate endpoints one logical request may
	// try on connection failure. 0 means every candidate.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	Refresh   RefreshConfig   `yaml:"refresh" json:"refresh"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Gen       GenConfig       `yaml:"gen" json:"gen"`
}

// RefreshConfig selects and configures the token refresh primitive.
type RefreshConfig struct {
	// Mode is "api" (POST to the backend refresh path) or "oauth2"
	// (token-endpoint refresh grant).
	Mode string `yaml:"mode" json:"mode"`
	Path string `yaml:"path" json:"path"`

	TokenURL     string `yaml:"token_url" json:"token_url"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
}

// StorageConfig selects the durable tier backend.
type StorageConfig struct {
	Backend       string `yaml:"backend" json:"backend"` // "file" or "redis"
	BaseDir       string `yaml:"base_dir" json:"base_dir"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"redis_password"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" json:"redis_prefix"`
}

// RateLimitConfig bounds request rates both gateway-side and client-side.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	RPS     int  `yaml:"rps" json:"rps"`
	Burst   int  `yaml:"burst" json:"burst"`
}

// ModelOverride carries per-model generation settings.
type ModelOverride struct {
	TimeoutSec  int     `yaml:"timeout_sec" json:"timeout_sec"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// GenConfig configures the generation client and its model fallback chain.
type GenConfig struct {
	// Models in priority order; the first entry is the preferred model.
	Models            []string                 `yaml:"models" json:"models"`
	ModelOptions      map[string]ModelOverride `yaml:"model_options" json:"model_options"`
	AttemptTimeoutSec int                      `yaml:"attempt_timeout_sec" json:"attempt_timeout_sec"`
	// AdvanceOnClientError makes the fallback chain try the next model even
	// on 4xx responses. Off by default: a malformed prompt fails the same way
	// everywhere, so retrying other models just burns quota.
	AdvanceOnClientError bool `yaml:"advance_on_client_error" json:"advance_on_client_error"`
	CheckIntervalSec     int  `yaml:"check_interval_sec" json:"check_interval_sec"`
}

// Default returns a config with workable defaults for local use.
func Default() *Config {
	return &Config{
		Port:              8317,
		Endpoints:         []string{"http://localhost:8000"},
		RequestTimeoutSec: 30,
		Refresh: RefreshConfig{
			Mode: "api",
			Path: "/api/auth/refresh",
		},
		Storage: StorageConfig{
			Backend: "file",
			BaseDir: "./data",
		},
		RateLimit: RateLimitConfig{RPS: 20, Burst: 40},
		Gen: GenConfig{
			AttemptTimeoutSec: 60,
			CheckIntervalSec:  300,
		},
	}
}

// RequestTimeout returns the per-request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// AttemptTimeout returns the per-candidate generation timeout.
func (g *GenConfig) AttemptTimeout() time.Duration {
	if g.AttemptTimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(g.AttemptTimeoutSec) * time.Second
}

// CheckInterval returns the model availability cache lifetime.
func (g *GenConfig) CheckInterval() time.Duration {
	if g.CheckIntervalSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(g.CheckIntervalSec) * time.Second
}

// Validate normalizes and checks the configuration.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("config: at least one endpoint is required")
	}
	for i, ep := range c.Endpoints {
		ep = strings.TrimRight(strings.TrimSpace(ep), "/")
		if ep == "" {
			return fmt.Errorf("config: endpoint %d is empty", i)
		}
		u, err := url.Parse(ep)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: endpoint %q is not an absolute URL", ep)
		}
		c.Endpoints[i] = ep
	}
	switch c.Refresh.Mode {
	case "", "api":
		c.Refresh.Mode = "api"
		if c.Refresh.Path == "" {
			c.Refresh.Path = "/api/auth/refresh"
		}
	case "oauth2":
		if c.Refresh.TokenURL == "" {
			return fmt.Errorf("config: refresh mode oauth2 requires token_url")
		}
	default:
		return fmt.Errorf("config: unknown refresh mode %q", c.Refresh.Mode)
	}
	switch c.Storage.Backend {
	case "", "file":
		c.Storage.Backend = "file"
		if c.Storage.BaseDir == "" {
			c.Storage.BaseDir = "./data"
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("config: storage backend redis requires redis_addr")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
