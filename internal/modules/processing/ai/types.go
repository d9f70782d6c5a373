package ai

import (
	"strings"
	"time"
)

// ProviderKind selects one of the two backend protocol families.
type ProviderKind string

const (
	// ProviderStructured is a backend with schema-constrained JSON output.
	ProviderStructured ProviderKind = "structured"
	// ProviderCompletion is a generic /chat/completions HTTP backend.
	ProviderCompletion ProviderKind = "completion-compatible"
)

// Dialect picks the wire protocol used inside the structured family.
type Dialect string

const (
	DialectGemini Dialect = "gemini"
	DialectOpenAI Dialect = "openai"
)

const (
	maxTemperature        = 2.0
	defaultRequestTimeout = 60 * time.Second

	defaultGeminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel       = "gemini-2.5-flash"
	defaultOpenAIModel       = "gpt-4o-mini"
	defaultCompletionBaseURL = "https://api.openai.com/v1"
	defaultCompletionModel   = "gpt-4o-mini"
)

// AnalyzeConfig carries everything a backend call needs.
type AnalyzeConfig struct {
	Provider       ProviderKind  `json:"provider"`
	Dialect        Dialect       `json:"dialect,omitempty"`
	Temperature    float64       `json:"temperature"`
	CustomPrompt   string        `json:"custom_prompt,omitempty"`
	ModelID        string        `json:"model_id,omitempty"`
	BaseURL        string        `json:"base_url,omitempty"`
	APIKey         string        `json:"api_key,omitempty"`
	RequestTimeout time.Duration `json:"request_timeout,omitempty"`
}

// ConfigOverride is the per-request subset of AnalyzeConfig a caller may change.
// Nil fields keep the configured default.
type ConfigOverride struct {
	Provider     *string  `json:"provider,omitempty"`
	Dialect      *string  `json:"dialect,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	CustomPrompt *string  `json:"custom_prompt,omitempty"`
	ModelID      *string  `json:"model_id,omitempty"`
	BaseURL      *string  `json:"base_url,omitempty"`
	APIKey       *string  `json:"api_key,omitempty"`
}

// Merge applies o over c and returns the result.
func (c AnalyzeConfig) Merge(o *ConfigOverride) AnalyzeConfig {
	if o == nil {
		return c
	}
	if o.Provider != nil {
		c.Provider = ProviderKind(*o.Provider)
	}
	if o.Dialect != nil {
		c.Dialect = Dialect(*o.Dialect)
	}
	if o.Temperature != nil {
		c.Temperature = *o.Temperature
	}
	if o.CustomPrompt != nil {
		c.CustomPrompt = *o.CustomPrompt
	}
	if o.ModelID != nil {
		c.ModelID = *o.ModelID
	}
	if o.BaseURL != nil {
		c.BaseURL = *o.BaseURL
	}
	if o.APIKey != nil {
		c.APIKey = *o.APIKey
	}
	return c
}

func normalizeProviderKind(raw ProviderKind) ProviderKind {
	t := strings.ToLower(strings.TrimSpace(string(raw)))
	t = strings.ReplaceAll(t, "_", "-")
	t = strings.ReplaceAll(t, " ", "")
	switch t {
	case "", "structured", "gemini", "schema":
		return ProviderStructured
	case "completion-compatible", "completion", "openai-compatible", "openaicompatible", "completioncompatible":
		return ProviderCompletion
	}
	return ProviderKind(t)
}

func normalizeDialect(raw Dialect) Dialect {
	switch strings.ToLower(strings.TrimSpace(string(raw))) {
	case "", "gemini", "google":
		return DialectGemini
	case "openai":
		return DialectOpenAI
	}
	return Dialect(strings.ToLower(strings.TrimSpace(string(raw))))
}

// Normalized trims the config and fills protocol defaults. It does not validate.
func (c AnalyzeConfig) Normalized() AnalyzeConfig {
	c.Provider = normalizeProviderKind(c.Provider)
	c.ModelID = strings.TrimSpace(c.ModelID)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.CustomPrompt = strings.TrimSpace(c.CustomPrompt)
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}

	switch c.Provider {
	case ProviderStructured:
		c.Dialect = normalizeDialect(c.Dialect)
		if c.ModelID == "" {
			if c.Dialect == DialectOpenAI {
				c.ModelID = defaultOpenAIModel
			} else {
				c.ModelID = defaultGeminiModel
			}
		}
		if c.BaseURL == "" && c.Dialect == DialectGemini {
			c.BaseURL = defaultGeminiBaseURL
		}
	case ProviderCompletion:
		c.Dialect = ""
		if c.ModelID == "" {
			c.ModelID = defaultCompletionModel
		}
		if c.BaseURL == "" {
			c.BaseURL = defaultCompletionBaseURL
		}
	}
	return c
}

// Validate reports the first configuration problem, before any network call.
func (c AnalyzeConfig) Validate() error {
	switch c.Provider {
	case ProviderStructured:
		if c.Dialect != DialectGemini && c.Dialect != DialectOpenAI {
			return &ConfigError{Field: "dialect", Reason: "unsupported structured dialect " + string(c.Dialect)}
		}
		if c.APIKey == "" {
			return &ConfigError{Field: "api_key", Reason: "structured provider api key is empty"}
		}
	case ProviderCompletion:
		if c.APIKey == "" {
			return &ConfigError{Field: "api_key", Reason: "completion-compatible provider requires an api key"}
		}
	default:
		return &ConfigError{Field: "provider", Reason: "unknown provider " + string(c.Provider)}
	}
	if c.Temperature < 0 || c.Temperature > maxTemperature {
		return &ConfigError{Field: "temperature", Reason: "temperature must be within [0, 2]"}
	}
	return nil
}

// RawSegment is an analyzer record before it gets an id.
type RawSegment struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content,omitempty"`
}

// StreamToken is one fragment of model output. The last token of a reply has
// IsFinal set; its Text is empty on success and carries the error message on failure.
type StreamToken struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// Accumulator is the running reply text. Add returns a new value; the receiver
// is never modified.
type Accumulator struct {
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

func (a Accumulator) Add(tok StreamToken) Accumulator {
	if tok.Text == "" {
		return a
	}
	return Accumulator{Text: a.Text + tok.Text, Tokens: a.Tokens + 1}
}

func truncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}
