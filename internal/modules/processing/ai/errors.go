package ai

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotArray means the model answered with JSON that holds no array of records.
var ErrNotArray = errors.New("the model did not return the expected structure")

// ConfigError is returned before any network call when the selected provider
// cannot be used with the given configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid AI configuration: " + e.Reason
}

// NetworkError covers transport failures, non-2xx provider responses and
// errors the provider reports inside a stream. Status is zero unless an HTTP
// status was seen; Body is empty for pure transport failures.
type NetworkError struct {
	Status int
	Body   string
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("Provider Error (%d): %s", e.Status, e.Body)
	}
	if e.Body != "" {
		return "Provider Error: " + e.Body
	}
	if e.Err != nil {
		return "network error: " + e.Err.Error()
	}
	return "network error"
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError means the provider answered but the payload could not be turned
// into segment records.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Reason, e.Err)
	}
	return "parse error: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// StreamProtocolError records an SSE frame that was skipped. It is never
// returned from a stream read; decoders collect it and keep going.
type StreamProtocolError struct {
	Line string
	Err  error
}

func (e *StreamProtocolError) Error() string {
	return fmt.Sprintf("malformed stream frame %q: %v", truncateText(e.Line, 80), e.Err)
}

func (e *StreamProtocolError) Unwrap() error { return e.Err }

func statusError(status int, body []byte) *NetworkError {
	return &NetworkError{Status: status, Body: strings.TrimSpace(string(body))}
}

// IsConfigError reports whether err is (or wraps) a *ConfigError.
func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsParseError reports whether err is (or wraps) a *ParseError.
func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// IsNetworkError reports whether err is (or wraps) a *NetworkError.
func IsNetworkError(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}
