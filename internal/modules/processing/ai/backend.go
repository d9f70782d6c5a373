package ai

import (
	"context"

	"github.com/mx-space/chaptr/internal/models"
)

// Turn is one prior message in the shape every backend understands.
type Turn struct {
	Role models.Role
	Text string
}

// ChatPrompt is the full message sequence for one chat request: the context
// preamble followed by turns, oldest first, ending with the new user message.
type ChatPrompt struct {
	System string
	Turns  []Turn
}

// DeltaStream is an open provider response. Recv returns io.EOF once the
// provider ends the stream normally. The context given to OpenStream bounds
// every Recv.
type DeltaStream interface {
	Recv() (string, error)
	Close() error
}

// Backend is implemented by both provider families.
type Backend interface {
	Analyze(ctx context.Context, text string, keepOriginal bool, cfg AnalyzeConfig) ([]RawSegment, error)
	OpenStream(ctx context.Context, prompt ChatPrompt, cfg AnalyzeConfig) (DeltaStream, error)
}
