package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mx-space/chaptr/internal/models"
	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	jetai "go.jetify.com/ai"
	jetapi "go.jetify.com/ai/api"
	jetopenai "go.jetify.com/ai/provider/openai"
	"go.uber.org/zap"
)

const openAISchemaName = "document_segments"

// openAISegmentSchema wraps the record array in an object because strict
// structured outputs require an object root.
func openAISegmentSchema(keepOriginal bool) map[string]any {
	properties := map[string]any{
		"title":   map[string]any{"type": "string"},
		"summary": map[string]any{"type": "string"},
	}
	required := []string{"title", "summary"}
	if keepOriginal {
		properties["content"] = map[string]any{"type": "string"}
		required = append(required, "content")
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"segments": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"properties":           properties,
					"required":             required,
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"segments"},
		"additionalProperties": false,
	}
}

// unwrapSegments returns the array held under "segments". A bare array passes
// through unchanged.
func unwrapSegments(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if firstByte([]byte(text)) == '[' {
		return text, nil
	}
	var envelope struct {
		Segments json.RawMessage `json:"segments"`
	}
	if err := json.Unmarshal([]byte(text), &envelope); err != nil {
		return "", &ParseError{Reason: "structured response is not valid JSON", Err: err}
	}
	if len(envelope.Segments) == 0 {
		return "", &ParseError{Reason: "structured response has no segments", Err: ErrNotArray}
	}
	return string(envelope.Segments), nil
}

// openAIDialect uses the official SDK for analysis and the jetify language
// model for chat streaming.
type openAIDialect struct {
	logger *zap.Logger
	// options are appended to every SDK client, tests use them to inject transports.
	options []openaioption.RequestOption
}

func (o *openAIDialect) newClient(cfg AnalyzeConfig) openaiclient.Client {
	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(cfg.APIKey),
		openaioption.WithMaxRetries(0),
	}
	if normalized := normalizeOpenAIBaseURL(cfg.BaseURL); normalized != "" {
		opts = append(opts, openaioption.WithBaseURL(normalized))
	}
	opts = append(opts, o.options...)
	return openaiclient.NewClient(opts...)
}

func (o *openAIDialect) generate(ctx context.Context, text string, keepOriginal bool, cfg AnalyzeConfig) (string, error) {
	client := o.newClient(cfg)
	completion, err := client.Chat.Completions.New(ctx, openaiclient.ChatCompletionNewParams{
		Model: openaiclient.ChatModel(cfg.ModelID),
		Messages: []openaiclient.ChatCompletionMessageParamUnion{
			openaiclient.SystemMessage(buildAnalysisPrompt(keepOriginal, cfg.CustomPrompt, false)),
			openaiclient.UserMessage(text),
		},
		Temperature: openaiclient.Float(cfg.Temperature),
		ResponseFormat: openaiclient.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openaiclient.ResponseFormatJSONSchemaParam{
				JSONSchema: openaiclient.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   openAISchemaName,
					Schema: openAISegmentSchema(keepOriginal),
					Strict: openaiclient.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return "", mapOpenAIError(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return "", &ParseError{Reason: "provider response has no choices"}
	}
	return unwrapSegments(completion.Choices[0].Message.Content)
}

func (o *openAIDialect) stream(ctx context.Context, prompt ChatPrompt, cfg AnalyzeConfig) (DeltaStream, error) {
	client := o.newClient(cfg)
	model := jetopenai.NewLanguageModel(cfg.ModelID, jetopenai.WithClient(client))

	streamCtx, cancel := context.WithCancel(ctx)
	streamResp, err := jetai.StreamText(
		streamCtx,
		buildJetMessages(prompt),
		jetai.WithModel(model),
		jetai.WithTemperature(cfg.Temperature),
	)
	if err != nil {
		cancel()
		return nil, mapOpenAIError(ctx, err)
	}

	s := &eventStream{ctx: streamCtx, cancel: cancel, events: make(chan streamEvent)}
	go func() {
		defer close(s.events)
		for event := range streamResp.Stream {
			var ev streamEvent
			switch evt := event.(type) {
			case *jetapi.TextDeltaEvent:
				if evt.TextDelta == "" {
					continue
				}
				ev.text = evt.TextDelta
			case *jetapi.ErrorEvent:
				ev.err = streamEventError(streamCtx, evt.Err)
			default:
				continue
			}
			select {
			case s.events <- ev:
			case <-streamCtx.Done():
				return
			}
			if ev.err != nil {
				return
			}
		}
	}()
	return s, nil
}

func buildJetMessages(prompt ChatPrompt) []jetapi.Message {
	messages := make([]jetapi.Message, 0, len(prompt.Turns)+1)
	if strings.TrimSpace(prompt.System) != "" {
		messages = append(messages, &jetapi.SystemMessage{Content: prompt.System})
	}
	for _, turn := range prompt.Turns {
		if turn.Role == models.RoleModel {
			messages = append(messages, &jetapi.AssistantMessage{Content: jetapi.ContentFromText(turn.Text)})
			continue
		}
		messages = append(messages, &jetapi.UserMessage{Content: jetapi.ContentFromText(turn.Text)})
	}
	return messages
}

// mapOpenAIError folds SDK errors into the package taxonomy.
func mapOpenAIError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openaiclient.Error
	if errors.As(err, &apiErr) {
		body := strings.TrimSpace(apiErr.Message)
		if body == "" {
			body = strings.TrimSpace(apiErr.RawJSON())
		}
		return &NetworkError{Status: apiErr.StatusCode, Body: body, Err: err}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &NetworkError{Err: ctxErr}
	}
	return &NetworkError{Err: err}
}

// streamEventError converts the payload of a stream error event. The provider
// did answer, so its message is kept as the body.
func streamEventError(ctx context.Context, v any) error {
	var err error
	switch e := v.(type) {
	case nil:
		return &NetworkError{Body: "the stream ended with an unknown error"}
	case error:
		err = e
	case string:
		err = errors.New(e)
	default:
		err = fmt.Errorf("%v", e)
	}

	var apiErr *openaiclient.Error
	if errors.As(err, &apiErr) {
		return mapOpenAIError(ctx, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &NetworkError{Err: ctxErr}
	}
	return &NetworkError{Body: strings.TrimSpace(err.Error()), Err: err}
}

type streamEvent struct {
	text string
	err  error
}

// eventStream exposes a channel-fed SDK stream as a DeltaStream.
type eventStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan streamEvent
}

func (s *eventStream) Recv() (string, error) {
	select {
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	case ev, ok := <-s.events:
		if !ok {
			if err := s.ctx.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return ev.text, ev.err
	}
}

func (s *eventStream) Close() error {
	s.cancel()
	return nil
}
