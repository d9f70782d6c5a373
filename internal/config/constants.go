package config

import "time"

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 2333
	defaultEnv        = "development"

	defaultDBPort    = 3306
	defaultDBUser    = "root"
	defaultDBName    = "chaptr"
	defaultDBCharset = "utf8mb4"
	defaultDBLoc     = "Local"

	defaultRedisPort = 6379
	defaultRedisDB   = 0

	defaultAIProvider       = "structured"
	defaultAITemperature    = 0.7
	defaultAIRequestTimeout = 60 * time.Second
	defaultMaxUploadMB      = 20
	defaultMaxInputRunes    = 200_000
	defaultRateLimitMax     = 30
	defaultRateLimitWindow  = time.Minute
)
