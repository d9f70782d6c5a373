package ai

import (
	"context"
	"net/http"
	"strings"

	"github.com/mx-space/chaptr/internal/models"
	"go.uber.org/zap"
)

const completionPath = "/chat/completions"

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponseFormat struct {
	Type string `json:"type"`
}

type completionRequest struct {
	Model          string                    `json:"model"`
	Messages       []completionMessage       `json:"messages"`
	Temperature    float64                   `json:"temperature"`
	ResponseFormat *completionResponseFormat `json:"response_format,omitempty"`
	Stream         bool                      `json:"stream,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// CompletionAnalyzer talks to any /chat/completions endpoint. Output structure
// is enforced only by the prompt, so analysis goes through ExtractArray.
type CompletionAnalyzer struct {
	client *http.Client
	logger *zap.Logger
}

func NewCompletionAnalyzer(client *http.Client, logger *zap.Logger) *CompletionAnalyzer {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionAnalyzer{client: client, logger: logger}
}

func (a *CompletionAnalyzer) headers(cfg AnalyzeConfig) map[string]string {
	return map[string]string{"Authorization": "Bearer " + cfg.APIKey}
}

func (a *CompletionAnalyzer) Analyze(ctx context.Context, text string, keepOriginal bool, cfg AnalyzeConfig) ([]RawSegment, error) {
	if cfg.APIKey == "" {
		return nil, &ConfigError{Field: "api_key", Reason: "completion-compatible provider requires an api key"}
	}
	ctx, cancel := withRequestDeadline(ctx, cfg)
	defer cancel()

	body := completionRequest{
		Model: cfg.ModelID,
		Messages: []completionMessage{
			{Role: "system", Content: buildAnalysisPrompt(keepOriginal, cfg.CustomPrompt, true)},
			{Role: "user", Content: text},
		},
		Temperature:    cfg.Temperature,
		ResponseFormat: &completionResponseFormat{Type: "json_object"},
	}

	resp, err := postJSON(ctx, a.client, joinEndpoint(cfg.BaseURL, completionPath), a.headers(cfg), body)
	if err != nil {
		return nil, err
	}
	var out completionResponse
	if err := readJSONBody(resp, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, &ParseError{Reason: "provider response has no choices"}
	}

	items, err := ExtractArray(out.Choices[0].Message.Content)
	if err != nil {
		a.logger.Debug("completion output rejected",
			zap.String("model", cfg.ModelID),
			zap.String("content", truncateText(out.Choices[0].Message.Content, 200)),
			zap.Error(err))
		return nil, err
	}
	return sanitizeRecords(items, keepOriginal), nil
}

func (a *CompletionAnalyzer) OpenStream(ctx context.Context, prompt ChatPrompt, cfg AnalyzeConfig) (DeltaStream, error) {
	if cfg.APIKey == "" {
		return nil, &ConfigError{Field: "api_key", Reason: "completion-compatible provider requires an api key"}
	}

	messages := make([]completionMessage, 0, len(prompt.Turns)+1)
	if strings.TrimSpace(prompt.System) != "" {
		messages = append(messages, completionMessage{Role: "system", Content: prompt.System})
	}
	for _, turn := range prompt.Turns {
		messages = append(messages, completionMessage{Role: completionRole(turn.Role), Content: turn.Text})
	}

	body := completionRequest{
		Model:       cfg.ModelID,
		Messages:    messages,
		Temperature: cfg.Temperature,
		Stream:      true,
	}
	headers := a.headers(cfg)
	headers["Accept"] = "text/event-stream"

	resp, err := postJSON(ctx, a.client, joinEndpoint(cfg.BaseURL, completionPath), headers, body)
	if err != nil {
		return nil, err
	}
	stream := newSSEStream(ctx, resp.Body, ChatCompletionDelta)
	stream.onClose = func(dec *StreamDecoder) {
		for _, frame := range dec.Malformed() {
			a.logger.Debug("skipped stream frame", zap.String("model", cfg.ModelID), zap.Error(frame))
		}
	}
	return stream, nil
}

func completionRole(role models.Role) string {
	if role == models.RoleModel {
		return "assistant"
	}
	return string(role)
}
