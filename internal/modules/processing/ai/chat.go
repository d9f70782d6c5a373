package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mx-space/chaptr/internal/models"
	"go.uber.org/zap"
)

// ErrEmptyMessage is returned when a chat message has no text.
var ErrEmptyMessage = errors.New("message is empty")

// ErrConversationNotFound is returned by ConversationStore for unknown ids.
var ErrConversationNotFound = errors.New("document not found")

// Conversation is the persisted state a bound chat works on.
type Conversation struct {
	Segments []models.Segment
	History  []models.ChatMessage
}

// ConversationStore loads and saves conversations by id.
type ConversationStore interface {
	LoadConversation(ctx context.Context, id string) (Conversation, error)
	SaveHistory(ctx context.Context, id string, history []models.ChatMessage) error
}

// ChatRequest is an unbound chat call. Nothing is persisted.
type ChatRequest struct {
	Segments []models.Segment
	History  []models.ChatMessage
	Message  string
	Config   AnalyzeConfig
}

// Orchestrator builds chat prompts and turns backend streams into Replies.
type Orchestrator struct {
	router *Router
	store  ConversationStore
	locks  *ConversationLocks
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewOrchestrator(router *Router, store ConversationStore, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		router: router,
		store:  store,
		locks:  NewConversationLocks(),
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Locks exposes the per-conversation send slots.
func (o *Orchestrator) Locks() *ConversationLocks { return o.locks }

// BuildPrompt assembles [preamble, history..., message].
func BuildPrompt(segments []models.Segment, history []models.ChatMessage, message string) ChatPrompt {
	turns := make([]Turn, 0, len(history)+1)
	for _, msg := range history {
		if msg.Role == models.RoleModel && (msg.Status == models.ReplyFailed || msg.Status == models.ReplyPending) {
			continue
		}
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		turns = append(turns, Turn{Role: msg.Role, Text: msg.Text})
	}
	turns = append(turns, Turn{Role: models.RoleUser, Text: message})
	return ChatPrompt{System: BuildContextPreamble(segments), Turns: turns}
}

// Stream starts an unbound chat reply. Configuration problems are returned
// here; everything after that is reported through the Reply.
func (o *Orchestrator) Stream(ctx context.Context, req ChatRequest) (*Reply, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	backend, cfg, err := o.router.Select(req.Config)
	if err != nil {
		return nil, err
	}
	prompt := BuildPrompt(req.Segments, req.History, message)
	return newReply(ctx, cfg.RequestTimeout, func(ctx context.Context) (DeltaStream, error) {
		return backend.OpenStream(ctx, prompt, cfg)
	}), nil
}

// Send appends the user message and a pending model message to the stored
// history, then streams the reply into that model message. Only one Send per
// conversation runs at a time; a second caller waits until the first reply is
// terminal or closed.
func (o *Orchestrator) Send(ctx context.Context, conversationID, message string, cfg AnalyzeConfig) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if o.store == nil {
		return nil, errors.New("conversation store is not configured")
	}
	backend, cfg, err := o.router.Select(cfg)
	if err != nil {
		return nil, err
	}

	release, err := o.locks.Acquire(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	conv, err := o.store.LoadConversation(ctx, conversationID)
	if err != nil {
		release()
		return nil, err
	}

	prior := conv.History
	prompt := BuildPrompt(conv.Segments, prior, message)

	ts := o.now()
	if n := len(prior); n > 0 && ts.Before(prior[n-1].Timestamp) {
		ts = prior[n-1].Timestamp
	}
	history := make([]models.ChatMessage, 0, len(prior)+2)
	history = append(history, prior...)
	history = append(history,
		models.ChatMessage{ID: o.newID(), Role: models.RoleUser, Text: message, Timestamp: ts},
		models.ChatMessage{ID: o.newID(), Role: models.RoleModel, Timestamp: ts, Status: models.ReplyPending},
	)
	placeholder := len(history) - 1

	if err := o.store.SaveHistory(ctx, conversationID, history); err != nil {
		release()
		return nil, err
	}

	reply := newReply(ctx, cfg.RequestTimeout, func(ctx context.Context) (DeltaStream, error) {
		return backend.OpenStream(ctx, prompt, cfg)
	})
	reply.onToken = func(acc Accumulator) {
		history[placeholder].Text = acc.Text
	}
	reply.onFinish = func(r *Reply) {
		defer release()

		msg := &history[placeholder]
		msg.Text = r.Accumulated().Text
		msg.Status = models.ReplyCompleted
		if r.State() == StateFailed {
			msg.Status = models.ReplyFailed
			failure := r.Token().Text
			if msg.Text == "" {
				msg.Text = failure
			} else {
				msg.Text += "\n\n" + failure
			}
			o.logger.Warn("chat reply failed",
				zap.String("conversation", conversationID),
				zap.String("provider", string(cfg.Provider)),
				zap.String("model", cfg.ModelID),
				zap.Error(r.Err()))
		}

		// The request context may already be done; the final write must still land.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := o.store.SaveHistory(saveCtx, conversationID, history); err != nil {
			o.logger.Error("persist chat history failed",
				zap.String("conversation", conversationID),
				zap.Error(err))
		}
	}
	return reply, nil
}
