package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type rawAppConfig struct {
	Port               int               `yaml:"port"`
	Env                string            `yaml:"env"`
	DSN                string            `yaml:"dsn"`
	DatabaseURL        string            `yaml:"database_url"`
	RedisURL           string            `yaml:"redis_url"`
	Database           rawDatabaseConfig `yaml:"database"`
	Redis              rawRedisConfig    `yaml:"redis"`
	Paths              rawPathsConfig    `yaml:"paths"`
	LogDir             string            `yaml:"log_dir"`
	AllowedOrigins     []string          `yaml:"allowed_origins"`
	CORSAllowedOrigins []string          `yaml:"cors_allowed_origins"`
	AI                 rawAIConfig       `yaml:"ai"`
	RateLimit          rawRateLimit      `yaml:"rate_limit"`
	MaxUploadMB        int               `yaml:"max_upload_mb"`
	MaxInputRunes      int               `yaml:"max_input_runes"`
}

type rawDatabaseConfig struct {
	DSN       string            `yaml:"dsn"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Username  string            `yaml:"username"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	DBName    string            `yaml:"db_name"`
	Charset   string            `yaml:"charset"`
	ParseTime *bool             `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	Params    map[string]string `yaml:"params"`
}

type rawRedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       *int   `yaml:"db"`
	TLS      *bool  `yaml:"tls"`
}

type rawPathsConfig struct {
	Logs string `yaml:"logs"`
}

type rawAIConfig struct {
	Provider       string   `yaml:"provider"`
	Dialect        string   `yaml:"dialect"`
	ModelID        string   `yaml:"model_id"`
	Model          string   `yaml:"model"`
	BaseURL        string   `yaml:"base_url"`
	Endpoint       string   `yaml:"endpoint"`
	APIKey         string   `yaml:"api_key"`
	Temperature    *float64 `yaml:"temperature"`
	CustomPrompt   string   `yaml:"custom_prompt"`
	KeepOriginal   *bool    `yaml:"keep_original"`
	RequestTimeout string   `yaml:"request_timeout"`
}

type rawRateLimit struct {
	Max    *int   `yaml:"max"`
	Window string `yaml:"window"`
}

// Load reads the YAML file at configPath, then applies .env and CHAPTR_*
// environment overrides. A missing file at the default path is not an error.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	cfg := defaultAppConfig()
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		raw, err := decodeRaw(content)
		if err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
		if err := applyRawAppConfig(&cfg, raw); err != nil {
			return nil, fmt.Errorf("config file %q: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	finalize(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return &cfg, nil
}

func decodeRaw(content []byte) (rawAppConfig, error) {
	raw := rawAppConfig{}
	if len(bytes.TrimSpace(content)) == 0 {
		return raw, nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return raw, err
	}
	return raw, nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseRuntimeConfig{
			Port:      defaultDBPort,
			User:      defaultDBUser,
			Name:      defaultDBName,
			Charset:   defaultDBCharset,
			ParseTime: true,
			Loc:       defaultDBLoc,
		},
		Redis: RedisRuntimeConfig{
			Port: defaultRedisPort,
			DB:   defaultRedisDB,
		},
		AI: AIConfig{
			Provider:       defaultAIProvider,
			Temperature:    defaultAITemperature,
			RequestTimeout: defaultAIRequestTimeout,
		},
		RateLimit: RateLimitConfig{
			Max:    defaultRateLimitMax,
			Window: defaultRateLimitWindow,
		},
		MaxUploadMB:   defaultMaxUploadMB,
		MaxInputRunes: defaultMaxInputRunes,
	}
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) error {
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if v := strings.TrimSpace(raw.Env); v != "" {
		cfg.Env = v
	}

	db := cfg.Database
	firstNonEmpty(&db.DSN, raw.Database.DSN, raw.DatabaseURL, raw.DSN)
	firstNonEmpty(&db.Host, raw.Database.Host)
	if raw.Database.Port != 0 {
		db.Port = raw.Database.Port
	}
	firstNonEmpty(&db.User, raw.Database.User, raw.Database.Username)
	firstNonEmpty(&db.Password, raw.Database.Password)
	firstNonEmpty(&db.Name, raw.Database.Name, raw.Database.DBName)
	firstNonEmpty(&db.Charset, raw.Database.Charset)
	firstNonEmpty(&db.Loc, raw.Database.Loc)
	if raw.Database.ParseTime != nil {
		db.ParseTime = *raw.Database.ParseTime
	}
	if raw.Database.Params != nil {
		db.Params = copyStringMap(raw.Database.Params)
	}
	cfg.Database = db

	rd := cfg.Redis
	firstNonEmpty(&rd.URL, raw.Redis.URL, raw.RedisURL)
	firstNonEmpty(&rd.Host, raw.Redis.Host)
	if raw.Redis.Port != 0 {
		rd.Port = raw.Redis.Port
	}
	firstNonEmpty(&rd.Username, raw.Redis.Username)
	firstNonEmpty(&rd.Password, raw.Redis.Password)
	if raw.Redis.DB != nil {
		rd.DB = *raw.Redis.DB
	}
	if raw.Redis.TLS != nil {
		rd.TLS = *raw.Redis.TLS
	}
	cfg.Redis = rd

	firstNonEmpty(&cfg.Paths.Logs, raw.Paths.Logs, raw.LogDir)

	switch {
	case raw.AllowedOrigins != nil:
		cfg.AllowedOrigins = normalizeOrigins(raw.AllowedOrigins)
	case raw.CORSAllowedOrigins != nil:
		cfg.AllowedOrigins = normalizeOrigins(raw.CORSAllowedOrigins)
	}

	ai := cfg.AI
	firstNonEmpty(&ai.Provider, raw.AI.Provider)
	firstNonEmpty(&ai.Dialect, raw.AI.Dialect)
	firstNonEmpty(&ai.ModelID, raw.AI.ModelID, raw.AI.Model)
	firstNonEmpty(&ai.BaseURL, raw.AI.BaseURL, raw.AI.Endpoint)
	firstNonEmpty(&ai.APIKey, raw.AI.APIKey)
	firstNonEmpty(&ai.CustomPrompt, raw.AI.CustomPrompt)
	if raw.AI.Temperature != nil {
		ai.Temperature = *raw.AI.Temperature
	}
	if raw.AI.KeepOriginal != nil {
		ai.KeepOriginal = *raw.AI.KeepOriginal
	}
	if v := strings.TrimSpace(raw.AI.RequestTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ai.request_timeout: %w", err)
		}
		ai.RequestTimeout = d
	}
	cfg.AI = ai

	if raw.RateLimit.Max != nil {
		cfg.RateLimit.Max = *raw.RateLimit.Max
	}
	if v := strings.TrimSpace(raw.RateLimit.Window); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("rate_limit.window: %w", err)
		}
		cfg.RateLimit.Window = d
	}
	if raw.MaxUploadMB != 0 {
		cfg.MaxUploadMB = raw.MaxUploadMB
	}
	if raw.MaxInputRunes != 0 {
		cfg.MaxInputRunes = raw.MaxInputRunes
	}
	return nil
}

// finalize derives the connection strings once every source is applied.
func finalize(cfg *AppConfig) {
	cfg.Env = normalizeEnv(cfg.Env)
	cfg.Paths.Logs = strings.TrimSpace(cfg.Paths.Logs)
	cfg.AI.Provider = strings.TrimSpace(cfg.AI.Provider)
	cfg.AI.Dialect = strings.TrimSpace(cfg.AI.Dialect)
	cfg.AI.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.AI.BaseURL), "/")
	cfg.AI.APIKey = strings.TrimSpace(cfg.AI.APIKey)
	cfg.DSN = cfg.Database.DSNValue()
	cfg.RedisURL = cfg.Redis.URLValue()
}

func validate(cfg *AppConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d, expected 1-65535", cfg.Port)
	}
	if cfg.Database.Port < 1 || cfg.Database.Port > 65535 {
		return fmt.Errorf("invalid database.port %d, expected 1-65535", cfg.Database.Port)
	}
	if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis.port %d, expected 1-65535", cfg.Redis.Port)
	}
	if cfg.Redis.DB < 0 {
		return fmt.Errorf("invalid redis.db %d, expected >= 0", cfg.Redis.DB)
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		return fmt.Errorf("invalid ai.temperature %v, expected 0-2", cfg.AI.Temperature)
	}
	if cfg.AI.RequestTimeout <= 0 {
		return fmt.Errorf("invalid ai.request_timeout %s", cfg.AI.RequestTimeout)
	}
	if cfg.MaxUploadMB < 1 {
		return fmt.Errorf("invalid max_upload_mb %d", cfg.MaxUploadMB)
	}
	if cfg.MaxInputRunes < 1 {
		return fmt.Errorf("invalid max_input_runes %d", cfg.MaxInputRunes)
	}
	return nil
}

func firstNonEmpty(dst *string, values ...string) {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			*dst = t
			return
		}
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(env string) string {
	trimmed := strings.ToLower(strings.TrimSpace(env))
	if trimmed == "" {
		return defaultEnv
	}
	return trimmed
}

func copyStringMap(input map[string]string) map[string]string {
	out := make(map[string]string, len(input))
	for key, value := range input {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}
