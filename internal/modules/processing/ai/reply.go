package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ReplyState is the lifecycle of one chat request.
type ReplyState int

const (
	StateIdle ReplyState = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateFailed
)

func (s ReplyState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("ReplyState(%d)", int(s))
}

// Terminal reports whether no more tokens will be produced.
func (s ReplyState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type openFunc func(ctx context.Context) (DeltaStream, error)

// Reply is a single-use, pull-based token sequence. Nothing is sent until the
// first call to Next. The sequence always ends with one token that has IsFinal
// set: empty text when the reply completed, the failure message when it failed.
//
// A Reply is not safe for concurrent use. Close must be called when the caller
// stops reading early.
type Reply struct {
	ctx     context.Context
	cancel  context.CancelFunc
	open    openFunc
	timeout time.Duration

	stream DeltaStream
	state  ReplyState
	acc    Accumulator
	tok    StreamToken
	err    error

	// onToken sees the accumulator after every non-empty token.
	onToken func(Accumulator)
	// onFinish runs once, when the reply reaches a terminal state or is closed.
	onFinish   func(*Reply)
	finishOnce sync.Once
}

func newReply(ctx context.Context, timeout time.Duration, open openFunc) *Reply {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	return &Reply{ctx: ctx, cancel: cancel, open: open, timeout: timeout}
}

// Next advances to the next token. It returns false once the final token has
// been consumed.
func (r *Reply) Next() bool {
	switch r.state {
	case StateCompleted, StateFailed:
		return false
	case StateIdle:
		r.state = StateRequesting
		if err := r.ctx.Err(); err != nil {
			return r.fail(err)
		}
		stream, err := r.open(r.ctx)
		if err != nil {
			return r.fail(err)
		}
		r.stream = stream
		r.state = StateStreaming
	}

	for {
		if err := r.ctx.Err(); err != nil {
			return r.fail(err)
		}
		text, err := r.stream.Recv()
		if errors.Is(err, io.EOF) {
			return r.complete()
		}
		if err != nil {
			return r.fail(err)
		}
		if text == "" {
			continue
		}
		r.tok = StreamToken{Text: text}
		r.acc = r.acc.Add(r.tok)
		if r.onToken != nil {
			r.onToken(r.acc)
		}
		return true
	}
}

func (r *Reply) complete() bool {
	r.state = StateCompleted
	r.tok = StreamToken{IsFinal: true}
	r.finish()
	return true
}

func (r *Reply) fail(err error) bool {
	if ctxErr := r.ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = &NetworkError{Err: ctxErr}
	}
	r.state = StateFailed
	r.err = err
	r.tok = StreamToken{Text: FailureText(err, r.timeout), IsFinal: true}
	r.finish()
	return true
}

func (r *Reply) finish() {
	r.finishOnce.Do(func() {
		if r.stream != nil {
			_ = r.stream.Close()
		}
		r.cancel()
		if r.onFinish != nil {
			r.onFinish(r)
		}
	})
}

// Token returns the token produced by the last successful Next.
func (r *Reply) Token() StreamToken { return r.tok }

// State returns the current lifecycle state.
func (r *Reply) State() ReplyState { return r.state }

// Err is the failure cause once the reply is Failed, nil otherwise.
func (r *Reply) Err() error { return r.err }

// Accumulated is the reply text delivered so far. It never includes the
// failure message.
func (r *Reply) Accumulated() Accumulator { return r.acc }

// Close abandons the reply. A reply that was not already terminal ends Failed
// with context.Canceled.
func (r *Reply) Close() error {
	if !r.state.Terminal() {
		r.state = StateFailed
		r.err = context.Canceled
		r.tok = StreamToken{Text: FailureText(context.Canceled, r.timeout), IsFinal: true}
	}
	r.finish()
	return nil
}

// Collect drains the reply and returns the accumulated text.
func (r *Reply) Collect() (Accumulator, error) {
	defer r.Close()
	for r.Next() {
	}
	return r.acc, r.err
}

// FailureText renders err as the message shown in place of a reply.
func FailureText(err error, timeout time.Duration) string {
	var netErr *NetworkError
	var cfgErr *ConfigError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		if timeout > 0 {
			return fmt.Sprintf("The AI provider did not answer within %s.", timeout)
		}
		return "The AI provider did not answer in time."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.As(err, &netErr) && (netErr.Status != 0 || netErr.Body != ""):
		return netErr.Error()
	case errors.As(err, &netErr):
		return "Could not reach the AI provider. Check the base URL and your network."
	case errors.As(err, &cfgErr):
		return cfgErr.Error()
	}
	return "The AI provider returned an unexpected response: " + err.Error()
}
