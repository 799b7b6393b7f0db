package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no -config flag is given.
const DefaultConfigPath = "config.yml"

// Load reads the YAML config file, applies environment fallbacks and
// defaults, and validates the result.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Config is optional; environment variables may carry everything.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("TLDRIFY_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("TLDRIFY_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("TLDRIFY_ENV"); v != "" {
		cfg.Env = v
	}
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Port == 0 {
		cfg.Port = 2333
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}

	s := &cfg.Summarize
	if s.Workers <= 0 {
		s.Workers = runtime.NumCPU()
	}
	if s.Workers < 2 {
		s.Workers = 2
	}
	if s.QueueLimit <= 0 {
		s.QueueLimit = 1000
	}
	if s.SyncSlots <= 0 {
		s.SyncSlots = 4
	}
	if s.SyncThresholdBytes <= 0 {
		s.SyncThresholdBytes = 4096
	}
	if s.CacheTTLSeconds <= 0 {
		s.CacheTTLSeconds = 3600
	}
	if s.ReservationTTL <= 0 {
		s.ReservationTTL = 3600
	}
	if s.JobTimeoutSeconds <= 0 {
		s.JobTimeoutSeconds = 300
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	if s.EstimatedJobSeconds <= 0 {
		s.EstimatedJobSeconds = 8
	}
	if s.Costs.Extractive <= 0 {
		s.Costs.Extractive = 1
	}
	if s.Costs.Ranked <= 0 {
		s.Costs.Ranked = 3
	}
	if s.Costs.Generative <= 0 {
		s.Costs.Generative = 10
	}
	if s.Costs.Composite <= 0 {
		s.Costs.Composite = 6
	}

	if cfg.Bark.AppName == "" {
		cfg.Bark.AppName = "tldrify-core"
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Concurrency <= 0 {
			p.Concurrency = 8
		}
		if p.RateCapacity <= 0 {
			p.RateCapacity = 10
		}
		if p.RateRefillPerSec <= 0 {
			p.RateRefillPerSec = 5
		}
		if p.CallTimeoutSeconds <= 0 {
			p.CallTimeoutSeconds = 30
		}
	}
}

func validate(cfg *AppConfig) error {
	if cfg.DSN == "" {
		return errors.New("config: dsn is required (yaml `dsn` or TLDRIFY_DSN)")
	}
	for _, p := range cfg.Providers {
		if p.ID == "" {
			return errors.New("config: provider id is required")
		}
		if p.Enabled && p.APIKey == "" && p.Type != "mock" {
			return fmt.Errorf("config: provider %s is enabled without an api key", p.ID)
		}
	}
	return nil
}
