package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
)

const sseReadBufferSize = 4096

// postJSON sends body to endpoint and returns the response when it is 2xx.
// The caller owns the returned body.
func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if strings.TrimSpace(v) == "" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &NetworkError{Err: ctxErr}
		}
		return nil, &NetworkError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, statusError(resp.StatusCode, respBody)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &NetworkError{Status: 0, Err: errors.New("provider response has no body")}
	}
	return resp, nil
}

// readJSONBody decodes a full non-streaming response.
func readJSONBody(resp *http.Response, out any) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ParseError{Reason: "provider response body is not valid JSON", Err: err}
	}
	return nil
}

// sseStream adapts an SSE response body to DeltaStream.
type sseStream struct {
	ctx     context.Context
	body    io.ReadCloser
	dec     *StreamDecoder
	buf     []byte
	pending []string
	eof     bool
	onClose func(*StreamDecoder)
}

func newSSEStream(ctx context.Context, body io.ReadCloser, extract DeltaExtractor) *sseStream {
	return &sseStream{
		ctx:  ctx,
		body: body,
		dec:  NewStreamDecoder(extract),
		buf:  make([]byte, sseReadBufferSize),
	}
}

func (s *sseStream) Recv() (string, error) {
	for {
		if len(s.pending) > 0 {
			tok := s.pending[0]
			s.pending = s.pending[1:]
			return tok, nil
		}
		if s.eof || s.dec.Done() {
			return "", io.EOF
		}
		if err := s.ctx.Err(); err != nil {
			return "", err
		}

		n, readErr := s.body.Read(s.buf)
		if n > 0 {
			s.pending = append(s.pending, s.dec.Feed(s.buf[:n])...)
		}
		if errors.Is(readErr, io.EOF) {
			s.eof = true
			s.pending = append(s.pending, s.dec.Flush()...)
			continue
		}
		if readErr != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", &NetworkError{Err: readErr}
		}
	}
}

func (s *sseStream) Close() error {
	if s.onClose != nil {
		s.onClose(s.dec)
		s.onClose = nil
	}
	return s.body.Close()
}

// withRequestDeadline bounds ctx by the configured per-request timeout.
func withRequestDeadline(ctx context.Context, cfg AnalyzeConfig) (context.Context, context.CancelFunc) {
	if cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.RequestTimeout)
}

// joinEndpoint appends path to base, keeping exactly one slash between them.
func joinEndpoint(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// normalizeOpenAIBaseURL makes sure the SDK base URL ends with /v1.
func normalizeOpenAIBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimRight(base, "/")
	}

	path := strings.TrimRight(parsed.Path, "/")
	if !strings.HasSuffix(path, "/v1") {
		if path == "" {
			path = "/v1"
		} else {
			path += "/v1"
		}
	}
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/")
}
