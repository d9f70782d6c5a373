package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const (
	codeFence          = "```"
	placeholderTitle   = "No Title"
	placeholderSummary = "No Summary"
)

// stripCodeFence returns the body of the first fenced block when raw starts
// with a fence. Prose around the block is dropped. Other input is returned trimmed.
func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, codeFence) {
		return text
	}
	body := text[len(codeFence):]
	// The info string (json, JSON, ...) runs to the end of the opening line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = strings.TrimLeft(body, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	}
	if end := strings.Index(body, codeFence); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// ExtractArray recovers the record array from free-form model output:
// strip a leading code fence, parse, and when the value is an object use its
// first array-valued property in document order.
func ExtractArray(raw string) ([]json.RawMessage, error) {
	cleaned := stripCodeFence(raw)

	var value json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &value); err != nil {
		return nil, &ParseError{Reason: "response content is not valid JSON", Err: err}
	}

	switch firstByte(value) {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(value, &items); err != nil {
			return nil, &ParseError{Reason: "response array is malformed", Err: err}
		}
		return items, nil
	case '{':
		arr, err := firstArrayProperty(value)
		if err != nil {
			return nil, err
		}
		return arr, nil
	}
	return nil, &ParseError{Reason: "response is neither an array nor an object", Err: ErrNotArray}
}

// firstArrayProperty walks the object's keys in the order they appear in the
// payload. A map would lose that order.
func firstArrayProperty(obj json.RawMessage) ([]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(obj))
	if _, err := dec.Token(); err != nil {
		return nil, &ParseError{Reason: "response object is malformed", Err: err}
	}
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, &ParseError{Reason: "response object is malformed", Err: err}
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, &ParseError{Reason: "response object is malformed", Err: err}
		}
		if firstByte(val) != '[' {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(val, &items); err != nil {
			return nil, &ParseError{Reason: "response array is malformed", Err: err}
		}
		return items, nil
	}
	return nil, &ParseError{Reason: "no array-valued property in response object", Err: ErrNotArray}
}

func firstByte(raw []byte) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

// sanitizeRecords turns loosely-typed records into RawSegments. Missing or
// non-string title and summary get placeholders; content survives only when
// keepOriginal is set.
func sanitizeRecords(items []json.RawMessage, keepOriginal bool) []RawSegment {
	out := make([]RawSegment, 0, len(items))
	for _, item := range items {
		var rec map[string]any
		if err := json.Unmarshal(item, &rec); err != nil {
			rec = nil
		}
		seg := RawSegment{
			Title:   stringField(rec, "title"),
			Summary: stringField(rec, "summary"),
		}
		if seg.Title == "" {
			seg.Title = placeholderTitle
		}
		if seg.Summary == "" {
			seg.Summary = placeholderSummary
		}
		if keepOriginal {
			seg.Content = stringField(rec, "content")
		}
		out = append(out, seg)
	}
	return out
}

func stringField(rec map[string]any, key string) string {
	if rec == nil {
		return ""
	}
	s, _ := rec[key].(string)
	return s
}

// parseStrictArray decodes a schema-constrained response. Anything other than
// a JSON array of records is a ParseError.
func parseStrictArray(raw string, keepOriginal bool) ([]RawSegment, error) {
	text := strings.TrimSpace(raw)
	if firstByte([]byte(text)) != '[' {
		var probe any
		if err := json.Unmarshal([]byte(text), &probe); err != nil {
			return nil, &ParseError{Reason: "structured response is not valid JSON", Err: err}
		}
		return nil, &ParseError{Reason: "structured response is not an array", Err: ErrNotArray}
	}

	dec := json.NewDecoder(strings.NewReader(text))
	var records []RawSegment
	if err := dec.Decode(&records); err != nil {
		return nil, &ParseError{Reason: "structured response is not valid JSON", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ParseError{Reason: "structured response has trailing data", Err: err}
	}
	if !keepOriginal {
		for i := range records {
			records[i].Content = ""
		}
	}
	return records, nil
}
