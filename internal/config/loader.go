package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, applies environment overrides and validates.
// A missing file is not an error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays WBGATE_* environment variables on top of file values.
func applyEnv(cfg *Config) {
	if v := env("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := env("DEBUG"); v != "" {
		cfg.Debug = isTruthy(v)
	}
	if v := env("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := env("ENDPOINTS"); v != "" {
		parts := strings.Split(v, ",")
		eps := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				eps = append(eps, p)
			}
		}
		if len(eps) > 0 {
			cfg.Endpoints = eps
		}
	}
	if v := env("REQUEST_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RequestTimeoutSec = n
		}
	}
	if v := env("MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAttempts = n
		}
	}
	if v := env("REFRESH_MODE"); v != "" {
		cfg.Refresh.Mode = v
	}
	if v := env("REFRESH_PATH"); v != "" {
		cfg.Refresh.Path = v
	}
	if v := env("REFRESH_TOKEN_URL"); v != "" {
		cfg.Refresh.TokenURL = v
	}
	if v := env("REFRESH_CLIENT_ID"); v != "" {
		cfg.Refresh.ClientID = v
	}
	if v := env("REFRESH_CLIENT_SECRET"); v != "" {
		cfg.Refresh.ClientSecret = v
	}
	if v := env("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := env("STORAGE_BASE_DIR"); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := env("REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := env("REDIS_PASSWORD"); v != "" {
		cfg.Storage.RedisPassword = v
	}
	if v := env("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.RedisDB = n
		}
	}
	if v := env("GEN_MODELS"); v != "" {
		parts := strings.Split(v, ",")
		models := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				models = append(models, p)
			}
		}
		cfg.Gen.Models = models
	}
	if v := env("MANAGEMENT_KEY_HASH"); v != "" {
		cfg.ManagementKeyHash = v
	}
}

func env(suffix string) string {
	return strings.TrimSpace(os.Getenv("WBGATE_" + suffix))
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
