package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func completionConfig(baseURL string) AnalyzeConfig {
	return AnalyzeConfig{
		Provider:    ProviderCompletion,
		ModelID:     "local-model",
		BaseURL:     baseURL,
		APIKey:      "sk-test",
		Temperature: 0.2,
	}.Normalized()
}

func completionBody(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	return string(raw)
}

func TestCompletionAnalyze_requestShape(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chat/completions" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("authorization = %q", auth)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		io.WriteString(w, completionBody("```json\n[{\"title\":\"T1\",\"summary\":\"S1\",\"content\":\"C1\"},{\"title\":\"T2\",\"summary\":\"S2\"}]\n```"))
	}))
	defer srv.Close()

	a := NewCompletionAnalyzer(srv.Client(), nil)
	recs, err := a.Analyze(context.Background(), "the text", false, completionConfig(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(recs) != 2 || recs[0].Title != "T1" || recs[1].Summary != "S2" || recs[0].Content != "" {
		t.Fatalf("records = %+v", recs)
	}

	if got.Model != "local-model" || got.Temperature != 0.2 || got.Stream {
		t.Errorf("body = %+v", got)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v", got.ResponseFormat)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" || got.Messages[1].Content != "the text" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if !strings.Contains(got.Messages[0].Content, "DO NOT include the original text") {
		t.Errorf("summary-only rule missing from system prompt")
	}
}

func TestCompletionAnalyze_objectWrapper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, completionBody(`{"chapters":[{"title":"Only","summary":"one","content":"verbatim"}]}`))
	}))
	defer srv.Close()

	recs, err := NewCompletionAnalyzer(srv.Client(), nil).Analyze(context.Background(), "x", true, completionConfig(srv.URL))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(recs) != 1 || recs[0].Content != "verbatim" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestCompletionAnalyze_providerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "upstream exploded\n")
	}))
	defer srv.Close()

	_, err := NewCompletionAnalyzer(srv.Client(), nil).Analyze(context.Background(), "x", false, completionConfig(srv.URL))
	var netErr *NetworkError
	if !errors.As(err, &netErr) || netErr.Status != 500 {
		t.Fatalf("err = %v", err)
	}
	if err.Error() != "Provider Error (500): upstream exploded" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestCompletionAnalyze_notArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, completionBody(`{"title":"lonely"}`))
	}))
	defer srv.Close()

	_, err := NewCompletionAnalyzer(srv.Client(), nil).Analyze(context.Background(), "x", false, completionConfig(srv.URL))
	if !errors.Is(err, ErrNotArray) {
		t.Fatalf("err = %v", err)
	}
}

func TestCompletionAnalyze_missingKeyMakesNoRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	cfg := completionConfig(srv.URL)
	cfg.APIKey = ""
	a := NewCompletionAnalyzer(srv.Client(), nil)
	if _, err := a.Analyze(context.Background(), "x", false, cfg); !IsConfigError(err) {
		t.Fatalf("Analyze err = %v", err)
	}
	if _, err := a.OpenStream(context.Background(), ChatPrompt{}, cfg); !IsConfigError(err) {
		t.Fatalf("OpenStream err = %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("server hit %d times", hits.Load())
	}
}

func TestCompletionStream(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("accept = %q", accept)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range []string{
			`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: not json`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: [DONE]`,
		} {
			io.WriteString(w, frame+"\n\n")
			flusher.Flush()
		}
	}))
	defer srv.Close()

	prompt := ChatPrompt{
		System: "be brief",
		Turns: []Turn{
			{Role: "user", Text: "q1"},
			{Role: "model", Text: "a1"},
			{Role: "user", Text: "q2"},
		},
	}
	stream, err := NewCompletionAnalyzer(srv.Client(), nil).OpenStream(context.Background(), prompt, completionConfig(srv.URL))
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	var text strings.Builder
	for {
		tok, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		text.WriteString(tok)
	}
	if text.String() != "Hello" {
		t.Fatalf("text = %q", text.String())
	}

	if !got.Stream || got.ResponseFormat != nil {
		t.Errorf("body = %+v", got)
	}
	roles := make([]string, len(got.Messages))
	for i, m := range got.Messages {
		roles[i] = m.Role
	}
	if strings.Join(roles, ",") != "system,user,assistant,user" {
		t.Errorf("roles = %v", roles)
	}
}
