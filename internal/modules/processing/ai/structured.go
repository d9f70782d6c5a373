package ai

import (
	"context"
	"net/http"

	openaioption "github.com/openai/openai-go/v2/option"
	"go.uber.org/zap"
)

type structuredDialect interface {
	// generate returns the raw JSON text of the record array.
	generate(ctx context.Context, text string, keepOriginal bool, cfg AnalyzeConfig) (string, error)
	stream(ctx context.Context, prompt ChatPrompt, cfg AnalyzeConfig) (DeltaStream, error)
}

// StructuredAnalyzer drives providers with schema-constrained JSON output.
// The response must be exactly one array of records; nothing else is recovered.
type StructuredAnalyzer struct {
	gemini structuredDialect
	openai structuredDialect
	logger *zap.Logger
}

// NewStructuredAnalyzer builds both dialects. client serves the Gemini REST
// calls; openaiOpts are appended to every OpenAI SDK client.
func NewStructuredAnalyzer(client *http.Client, logger *zap.Logger, openaiOpts ...openaioption.RequestOption) *StructuredAnalyzer {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StructuredAnalyzer{
		gemini: &geminiDialect{client: client, logger: logger},
		openai: &openAIDialect{logger: logger, options: openaiOpts},
		logger: logger,
	}
}

func (a *StructuredAnalyzer) dialect(cfg AnalyzeConfig) (structuredDialect, error) {
	if cfg.APIKey == "" {
		return nil, &ConfigError{Field: "api_key", Reason: "structured provider api key is empty"}
	}
	switch cfg.Dialect {
	case DialectGemini, "":
		return a.gemini, nil
	case DialectOpenAI:
		return a.openai, nil
	}
	return nil, &ConfigError{Field: "dialect", Reason: "unsupported structured dialect " + string(cfg.Dialect)}
}

func (a *StructuredAnalyzer) Analyze(ctx context.Context, text string, keepOriginal bool, cfg AnalyzeConfig) ([]RawSegment, error) {
	d, err := a.dialect(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withRequestDeadline(ctx, cfg)
	defer cancel()

	raw, err := d.generate(ctx, text, keepOriginal, cfg)
	if err != nil {
		return nil, err
	}
	records, err := parseStrictArray(raw, keepOriginal)
	if err != nil {
		a.logger.Debug("structured output rejected",
			zap.String("dialect", string(cfg.Dialect)),
			zap.String("model", cfg.ModelID),
			zap.String("content", truncateText(raw, 200)),
			zap.Error(err))
		return nil, err
	}
	return records, nil
}

func (a *StructuredAnalyzer) OpenStream(ctx context.Context, prompt ChatPrompt, cfg AnalyzeConfig) (DeltaStream, error) {
	d, err := a.dialect(cfg)
	if err != nil {
		return nil, err
	}
	return d.stream(ctx, prompt, cfg)
}
