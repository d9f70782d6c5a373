package config

import "time"

// AppConfig holds runtime startup configuration.
type AppConfig struct {
	Port           int
	Env            string
	DSN            string // MySQL DSN, empty means in-memory documents
	RedisURL       string // empty means in-process tasks and no rate limiting
	Database       DatabaseRuntimeConfig
	Redis          RedisRuntimeConfig
	Paths          RuntimePathsConfig
	AllowedOrigins []string
	AI             AIConfig
	RateLimit      RateLimitConfig
	MaxUploadMB    int
	MaxInputRunes  int
}

type DatabaseRuntimeConfig struct {
	DSN       string
	Host      string
	Port      int
	User      string
	Password  string
	Name      string
	Charset   string
	ParseTime bool
	Loc       string
	Params    map[string]string
}

type RedisRuntimeConfig struct {
	URL      string
	Host     string
	Port     int
	Username string
	Password string
	DB       int
	TLS      bool
}

type RuntimePathsConfig struct {
	Logs string
}

// AIConfig is the default analysis configuration. Requests may override
// every field except the timeout.
type AIConfig struct {
	Provider       string
	Dialect        string
	ModelID        string
	BaseURL        string
	APIKey         string
	Temperature    float64
	CustomPrompt   string
	KeepOriginal   bool
	RequestTimeout time.Duration
}

type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

func (c *AppConfig) IsDev() bool {
	return c.Env != "production"
}

// LogDir resolves paths.logs against BaseDir. Empty means
// the log writer picks its own default.
func (c *AppConfig) LogDir() string {
	if c.Paths.Logs == "" {
		return ""
	}
	return ResolveRuntimePath(c.Paths.Logs, "")
}

// MaxUploadBytes is the multipart size limit.
func (c *AppConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}
