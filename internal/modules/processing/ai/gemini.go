package ai

import (
	"context"
	"net/http"
	neturl "net/url"
	"strings"

	"github.com/mx-space/chaptr/internal/models"
	"go.uber.org/zap"
)

const (
	geminiMimeJSON  = "application/json"
	geminiKeyHeader = "x-goog-api-key"
)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64        `json:"temperature"`
	ResponseMimeType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// text joins the parts of the first candidate.
func (r geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

// geminiSegmentSchema is the OpenAPI-subset schema the generateContent API
// expects. content is present only in verbatim mode.
func geminiSegmentSchema(keepOriginal bool) map[string]any {
	properties := map[string]any{
		"title":   map[string]any{"type": "STRING"},
		"summary": map[string]any{"type": "STRING"},
	}
	order := []string{"title", "summary"}
	if keepOriginal {
		properties["content"] = map[string]any{"type": "STRING"}
		order = append(order, "content")
	}
	return map[string]any{
		"type": "ARRAY",
		"items": map[string]any{
			"type":             "OBJECT",
			"properties":       properties,
			"required":         order,
			"propertyOrdering": order,
		},
	}
}

// geminiDialect calls the generateContent REST API directly.
type geminiDialect struct {
	client *http.Client
	logger *zap.Logger
}

func (g *geminiDialect) endpoint(cfg AnalyzeConfig, method string) string {
	return joinEndpoint(cfg.BaseURL, "models/"+neturl.PathEscape(cfg.ModelID)+":"+method)
}

func (g *geminiDialect) headers(cfg AnalyzeConfig) map[string]string {
	return map[string]string{geminiKeyHeader: cfg.APIKey}
}

func (g *geminiDialect) generate(ctx context.Context, text string, keepOriginal bool, cfg AnalyzeConfig) (string, error) {
	body := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: buildAnalysisPrompt(keepOriginal, cfg.CustomPrompt, false)}}},
		Contents:          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: text}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      cfg.Temperature,
			ResponseMimeType: geminiMimeJSON,
			ResponseSchema:   geminiSegmentSchema(keepOriginal),
		},
	}

	resp, err := postJSON(ctx, g.client, g.endpoint(cfg, "generateContent"), g.headers(cfg), body)
	if err != nil {
		return "", err
	}
	var out geminiResponse
	if err := readJSONBody(resp, &out); err != nil {
		return "", err
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", &ParseError{Reason: "prompt blocked: " + out.PromptFeedback.BlockReason}
	}
	if len(out.Candidates) == 0 {
		return "", &ParseError{Reason: "provider response has no candidates"}
	}
	return out.text(), nil
}

func (g *geminiDialect) stream(ctx context.Context, prompt ChatPrompt, cfg AnalyzeConfig) (DeltaStream, error) {
	body := geminiRequest{
		Contents:         make([]geminiContent, 0, len(prompt.Turns)),
		GenerationConfig: geminiGenerationConfig{Temperature: cfg.Temperature},
	}
	if strings.TrimSpace(prompt.System) != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: prompt.System}}}
	}
	for _, turn := range prompt.Turns {
		body.Contents = append(body.Contents, geminiContent{
			Role:  geminiRole(turn.Role),
			Parts: []geminiPart{{Text: turn.Text}},
		})
	}

	resp, err := postJSON(ctx, g.client, g.endpoint(cfg, "streamGenerateContent")+"?alt=sse", g.headers(cfg), body)
	if err != nil {
		return nil, err
	}
	stream := newSSEStream(ctx, resp.Body, GeminiDelta)
	stream.onClose = func(dec *StreamDecoder) {
		for _, frame := range dec.Malformed() {
			g.logger.Debug("skipped stream frame", zap.String("model", cfg.ModelID), zap.Error(frame))
		}
	}
	return stream, nil
}

func geminiRole(role models.Role) string {
	if role == models.RoleModel {
		return "model"
	}
	return "user"
}
