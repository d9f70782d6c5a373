package ai

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	sseDataPrefix = "data:"
	sseDoneMarker = "[DONE]"
)

// FramePolicy decides what the decoder does with a data frame it cannot parse.
type FramePolicy int

const (
	// SkipMalformedFrame records the frame as a StreamProtocolError and keeps decoding.
	SkipMalformedFrame FramePolicy = iota
)

// DeltaExtractor pulls the incremental text out of one SSE data payload.
type DeltaExtractor func(payload []byte) (string, error)

// StreamDecoder turns raw SSE bytes into text deltas. It holds no I/O; callers
// feed it whatever chunks the transport delivers.
type StreamDecoder struct {
	extract   DeltaExtractor
	policy    FramePolicy
	buf       []byte
	done      bool
	malformed []*StreamProtocolError
}

// NewStreamDecoder returns a decoder using extract for each data payload.
// A nil extract decodes chat-completions deltas.
func NewStreamDecoder(extract DeltaExtractor) *StreamDecoder {
	if extract == nil {
		extract = ChatCompletionDelta
	}
	return &StreamDecoder{extract: extract, policy: SkipMalformedFrame}
}

// Feed consumes one chunk and returns the tokens of every line it completed.
// After the [DONE] sentinel it returns nil for all further input.
func (d *StreamDecoder) Feed(chunk []byte) []string {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var tokens []string
	for !d.done {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(d.buf[:idx])
		d.buf = d.buf[idx+1:]
		if tok, ok := d.processLine(line); ok {
			tokens = append(tokens, tok)
		}
	}
	if d.done {
		d.buf = nil
	}
	return tokens
}

// Flush treats any buffered partial line as complete. Call once at end of stream.
func (d *StreamDecoder) Flush() []string {
	if d.done || len(d.buf) == 0 {
		d.buf = nil
		return nil
	}
	line := string(d.buf)
	d.buf = nil
	if tok, ok := d.processLine(line); ok {
		return []string{tok}
	}
	return nil
}

// Done reports whether the [DONE] sentinel has been seen.
func (d *StreamDecoder) Done() bool { return d.done }

// Malformed returns the frames skipped so far, in arrival order.
func (d *StreamDecoder) Malformed() []*StreamProtocolError {
	return append([]*StreamProtocolError(nil), d.malformed...)
}

func (d *StreamDecoder) processLine(raw string) (string, bool) {
	line := strings.TrimSpace(raw)
	if !strings.HasPrefix(line, sseDataPrefix) {
		return "", false
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
	if data == "" {
		return "", false
	}
	if data == sseDoneMarker {
		d.done = true
		return "", false
	}

	token, err := d.extract([]byte(data))
	if err != nil {
		switch d.policy {
		case SkipMalformedFrame:
			d.malformed = append(d.malformed, &StreamProtocolError{Line: line, Err: err})
		}
		return "", false
	}
	if token == "" {
		return "", false
	}
	return token, true
}

// ChatCompletionDelta extracts choices[0].delta.content.
func ChatCompletionDelta(payload []byte) (string, error) {
	var event struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", err
	}
	if len(event.Choices) == 0 {
		return "", nil
	}
	return event.Choices[0].Delta.Content, nil
}

// GeminiDelta extracts the concatenated text parts of the first candidate.
func GeminiDelta(payload []byte) (string, error) {
	var event geminiResponse
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", err
	}
	return event.text(), nil
}
