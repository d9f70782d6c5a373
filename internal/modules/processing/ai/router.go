package ai

// Router maps a provider kind to its backend. It does no I/O.
type Router struct {
	backends map[ProviderKind]Backend
}

func NewRouter(structured, completion Backend) *Router {
	return &Router{backends: map[ProviderKind]Backend{
		ProviderStructured: structured,
		ProviderCompletion: completion,
	}}
}

// Select normalizes cfg, validates it and returns the backend that serves it.
// Every failure is a *ConfigError.
func (r *Router) Select(cfg AnalyzeConfig) (Backend, AnalyzeConfig, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, cfg, err
	}
	backend, ok := r.backends[cfg.Provider]
	if !ok || backend == nil {
		return nil, cfg, &ConfigError{Field: "provider", Reason: "no backend registered for " + string(cfg.Provider)}
	}
	return backend, cfg, nil
}

// ProviderInfo describes a provider kind for listing endpoints.
type ProviderInfo struct {
	Kind         ProviderKind `json:"kind"`
	Dialects     []Dialect    `json:"dialects,omitempty"`
	DefaultModel string       `json:"default_model"`
	RequiresKey  bool         `json:"requires_key"`
	Schema       bool         `json:"schema_constrained"`
}

// Providers lists the kinds this router can serve.
func (r *Router) Providers() []ProviderInfo {
	out := make([]ProviderInfo, 0, 2)
	if r.backends[ProviderStructured] != nil {
		out = append(out, ProviderInfo{
			Kind:         ProviderStructured,
			Dialects:     []Dialect{DialectGemini, DialectOpenAI},
			DefaultModel: defaultGeminiModel,
			RequiresKey:  true,
			Schema:       true,
		})
	}
	if r.backends[ProviderCompletion] != nil {
		out = append(out, ProviderInfo{
			Kind:         ProviderCompletion,
			DefaultModel: defaultCompletionModel,
			RequiresKey:  true,
		})
	}
	return out
}
