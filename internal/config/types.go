package config

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int              `yaml:"port"`
	Env            string           `yaml:"env"` // "development" | "production"
	DSN            string           `yaml:"dsn"` // MySQL DSN
	RedisURL       string           `yaml:"redis_url"`
	AllowedOrigins []string         `yaml:"allowed_origins"`
	Summarize      SummarizeConfig  `yaml:"summarize"`
	Providers      []ProviderConfig `yaml:"providers"`
	Bark           BarkConfig       `yaml:"bark"`
}

// BarkConfig enables operator push alerts for failed jobs.
type BarkConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Key       string `yaml:"key"`
	ServerURL string `yaml:"server_url"`
	AppName   string `yaml:"app_name"`
}

// SummarizeConfig tunes the pipeline, queue and ledger.
type SummarizeConfig struct {
	Workers             int        `yaml:"workers"`               // 0 = NumCPU, min 2
	QueueLimit          int        `yaml:"queue_limit"`           // bounded queue length
	SyncSlots           int        `yaml:"sync_slots"`            // inline generative slots
	SyncThresholdBytes  int        `yaml:"sync_threshold_bytes"`  // inline generative below this
	CacheTTLSeconds     int        `yaml:"cache_ttl_seconds"`     // result cache TTL
	ReservationTTL      int        `yaml:"reservation_ttl_seconds"`
	JobTimeoutSeconds   int        `yaml:"job_timeout_seconds"`   // active job stall limit
	MaxAttempts         int        `yaml:"max_attempts"`          // retryable failures per job
	EstimatedJobSeconds int        `yaml:"estimated_job_seconds"` // per queued job, for ETA
	Costs               CostConfig `yaml:"costs"`
}

// CostConfig is the base credit cost per method. Total cost is
// base × ceil(text_length / 1000).
type CostConfig struct {
	Extractive int64 `yaml:"extractive"`
	Ranked     int64 `yaml:"ranked"`
	Generative int64 `yaml:"generative"`
	Composite  int64 `yaml:"composite"`
}

// ProviderConfig describes one external LLM provider slot.
type ProviderConfig struct {
	ID                 string  `yaml:"id"`
	Type               string  `yaml:"type"` // "openai" | "anthropic" | "openai-compatible"
	Endpoint           string  `yaml:"endpoint"`
	APIKey             string  `yaml:"api_key"`
	Model              string  `yaml:"model"`
	Enabled            bool    `yaml:"enabled"`
	Concurrency        int     `yaml:"concurrency"`         // in-flight call bound
	RateCapacity       float64 `yaml:"rate_capacity"`       // token bucket size
	RateRefillPerSec   float64 `yaml:"rate_refill_per_sec"` // token bucket refill
	CallTimeoutSeconds int     `yaml:"call_timeout_seconds"`
}

// IsDev reports whether the app runs in development mode.
func (c *AppConfig) IsDev() bool { return c.Env != "production" }
