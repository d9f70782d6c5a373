package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const envPrefix = "CHAPTR_"

// envOverrides are CHAPTR_* variables. Zero values mean unset; settings that
// may legitimately be zero or false are pointers.
type envOverrides struct {
	Port           int           `env:"PORT"`
	Env            string        `env:"ENV"`
	DSN            string        `env:"DSN"`
	RedisURL       string        `env:"REDIS_URL"`
	LogDir         string        `env:"LOG_DIR"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	AIProvider     string        `env:"AI_PROVIDER"`
	AIDialect      string        `env:"AI_DIALECT"`
	AIModelID      string        `env:"AI_MODEL_ID"`
	AIBaseURL      string        `env:"AI_BASE_URL"`
	AIAPIKey       string        `env:"AI_API_KEY"`
	AITemperature  *float64      `env:"AI_TEMPERATURE"`
	AIKeepOriginal *bool         `env:"AI_KEEP_ORIGINAL"`
	AIPrompt       string        `env:"AI_CUSTOM_PROMPT"`
	AITimeout      time.Duration `env:"AI_REQUEST_TIMEOUT"`
	RateLimitMax   *int          `env:"RATE_LIMIT_MAX"`
	MaxUploadMB    int           `env:"MAX_UPLOAD_MB"`
}

// applyEnvOverrides loads ./.env when present and applies CHAPTR_* variables.
// Variables already in the environment win over .env entries.
func applyEnvOverrides(cfg *AppConfig) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	if o.Port != 0 {
		cfg.Port = o.Port
	}
	firstNonEmpty(&cfg.Env, o.Env)
	firstNonEmpty(&cfg.Database.DSN, o.DSN)
	firstNonEmpty(&cfg.Redis.URL, o.RedisURL)
	firstNonEmpty(&cfg.Paths.Logs, o.LogDir)
	if len(o.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = normalizeOrigins(o.AllowedOrigins)
	}

	firstNonEmpty(&cfg.AI.Provider, o.AIProvider)
	firstNonEmpty(&cfg.AI.Dialect, o.AIDialect)
	firstNonEmpty(&cfg.AI.ModelID, o.AIModelID)
	firstNonEmpty(&cfg.AI.BaseURL, o.AIBaseURL)
	firstNonEmpty(&cfg.AI.APIKey, o.AIAPIKey)
	firstNonEmpty(&cfg.AI.CustomPrompt, o.AIPrompt)
	if o.AITemperature != nil {
		cfg.AI.Temperature = *o.AITemperature
	}
	if o.AIKeepOriginal != nil {
		cfg.AI.KeepOriginal = *o.AIKeepOriginal
	}
	if o.AITimeout > 0 {
		cfg.AI.RequestTimeout = o.AITimeout
	}
	if o.RateLimitMax != nil {
		cfg.RateLimit.Max = *o.RateLimitMax
	}
	if o.MaxUploadMB != 0 {
		cfg.MaxUploadMB = o.MaxUploadMB
	}
	return nil
}
