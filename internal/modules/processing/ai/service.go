package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	appcfg "github.com/mx-space/chaptr/internal/config"
	"github.com/mx-space/chaptr/internal/models"
	"github.com/mx-space/chaptr/internal/pkg/taskqueue"
	"go.uber.org/zap"
)

// TaskTypeAnalyze identifies background analysis jobs.
const TaskTypeAnalyze = "ai:analyze"

var (
	ErrEmptyText    = errors.New("text is empty")
	ErrTextTooLong  = errors.New("text exceeds the input limit")
	ErrNoTaskQueue  = errors.New("task queue is not configured")
	errTaskCanceled = errors.New("task cancelled")
)

// DocumentStore is the part of the document store analysis needs.
type DocumentStore interface {
	ConversationStore
	Create(ctx context.Context, doc *models.Document) error
}

// ConfigFromSettings converts the startup AI section into the default
// per-request configuration.
func ConfigFromSettings(c appcfg.AIConfig) AnalyzeConfig {
	return AnalyzeConfig{
		Provider:       ProviderKind(c.Provider),
		Dialect:        Dialect(c.Dialect),
		Temperature:    c.Temperature,
		CustomPrompt:   c.CustomPrompt,
		ModelID:        c.ModelID,
		BaseURL:        c.BaseURL,
		APIKey:         c.APIKey,
		RequestTimeout: c.RequestTimeout,
	}
}

// AnalyzeInput is one analysis request.
type AnalyzeInput struct {
	Title        string          `json:"title"`
	Text         string          `json:"text"`
	KeepOriginal *bool           `json:"keep_original,omitempty"`
	Override     *ConfigOverride `json:"config,omitempty"`
}

// analyzeTaskPayload is what gets stored with the task. It never carries the
// text or the api key.
type analyzeTaskPayload struct {
	Title    string       `json:"title"`
	Length   int          `json:"length"`
	Provider ProviderKind `json:"provider"`
	Model    string       `json:"model"`
}

type analyzeTaskResult struct {
	DocumentID string `json:"document_id"`
	Segments   int    `json:"segments"`
}

// Service ties analysis, persistence and background tasks together.
type Service struct {
	router       *Router
	assembler    Assembler
	chat         *Orchestrator
	store        DocumentStore
	queue        taskqueue.Queue
	logger       *zap.Logger
	defaults     AnalyzeConfig
	keepOriginal bool
	maxRunes     int

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewService(router *Router, store DocumentStore, queue taskqueue.Queue, logger *zap.Logger, settings appcfg.AIConfig, maxInputRunes int) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	var convStore ConversationStore
	if store != nil {
		convStore = store
	}
	return &Service{
		router:       router,
		chat:         NewOrchestrator(router, convStore, logger),
		store:        store,
		queue:        queue,
		logger:       logger,
		defaults:     ConfigFromSettings(settings),
		keepOriginal: settings.KeepOriginal,
		maxRunes:     maxInputRunes,
		running:      make(map[string]context.CancelFunc),
	}
}

// Chat returns the orchestrator used for chat endpoints.
func (s *Service) Chat() *Orchestrator { return s.chat }

// Router returns the provider router.
func (s *Service) Router() *Router { return s.router }

// Config merges a request override over the configured defaults.
func (s *Service) Config(o *ConfigOverride) AnalyzeConfig {
	return s.defaults.Merge(o)
}

func (s *Service) prepare(in AnalyzeInput) (AnalyzeInput, bool, error) {
	in.Text = strings.TrimSpace(in.Text)
	in.Title = strings.TrimSpace(in.Title)
	if in.Text == "" {
		return in, false, ErrEmptyText
	}
	if s.maxRunes > 0 && utf8.RuneCountInString(in.Text) > s.maxRunes {
		return in, false, fmt.Errorf("%w (%d characters)", ErrTextTooLong, s.maxRunes)
	}
	if in.Title == "" {
		in.Title = deriveTitle(in.Text)
	}
	keep := s.keepOriginal
	if in.KeepOriginal != nil {
		keep = *in.KeepOriginal
	}
	return in, keep, nil
}

// Analyze segments the text and stores the resulting document. The document is
// returned unsaved when no store is configured.
func (s *Service) Analyze(ctx context.Context, in AnalyzeInput) (*models.Document, error) {
	in, keep, err := s.prepare(in)
	if err != nil {
		return nil, err
	}
	backend, cfg, err := s.router.Select(s.Config(in.Override))
	if err != nil {
		return nil, err
	}
	return s.analyze(ctx, backend, cfg, in, keep)
}

func (s *Service) analyze(ctx context.Context, backend Backend, cfg AnalyzeConfig, in AnalyzeInput, keep bool) (*models.Document, error) {
	records, err := backend.Analyze(ctx, in.Text, keep, cfg)
	if err != nil {
		s.logger.Warn("analysis failed",
			zap.String("provider", string(cfg.Provider)),
			zap.String("model", cfg.ModelID),
			zap.Error(err))
		return nil, err
	}

	doc := &models.Document{
		Title:        in.Title,
		KeepOriginal: keep,
		SourceLength: utf8.RuneCountInString(in.Text),
		Segments:     s.assembler.Assemble(records),
		ChatHistory:  []models.ChatMessage{},
	}
	if s.store != nil {
		if err := s.store.Create(ctx, doc); err != nil {
			return nil, fmt.Errorf("save document: %w", err)
		}
	}
	s.logger.Info("document analyzed",
		zap.String("document", doc.ID),
		zap.String("provider", string(cfg.Provider)),
		zap.String("model", cfg.ModelID),
		zap.Int("segments", len(doc.Segments)))
	return doc, nil
}

// EnqueueAnalyze validates the request and runs it in the background. An
// identical request that is still running returns the existing task.
func (s *Service) EnqueueAnalyze(ctx context.Context, in AnalyzeInput) (*taskqueue.Task, error) {
	if s.queue == nil {
		return nil, ErrNoTaskQueue
	}
	in, keep, err := s.prepare(in)
	if err != nil {
		return nil, err
	}
	backend, cfg, err := s.router.Select(s.Config(in.Override))
	if err != nil {
		return nil, err
	}

	payload := analyzeTaskPayload{
		Title:    in.Title,
		Length:   utf8.RuneCountInString(in.Text),
		Provider: cfg.Provider,
		Model:    cfg.ModelID,
	}
	task, err := s.queue.Enqueue(ctx, TaskTypeAnalyze, payload, analyzeDedupKey(in, keep, cfg))
	if err != nil {
		return nil, err
	}

	if task.Status == taskqueue.TaskPending && s.claim(task.ID) {
		runCtx, cancel := context.WithCancelCause(context.Background())
		s.track(task.ID, func() { cancel(errTaskCanceled) })
		go func() {
			defer cancel(nil)
			s.executeAnalyze(runCtx, task.ID, backend, cfg, in, keep)
		}()
	}
	return task, nil
}

func (s *Service) executeAnalyze(ctx context.Context, taskID string, backend Backend, cfg AnalyzeConfig, in AnalyzeInput, keep bool) {
	defer s.untrack(taskID)
	// Status writes use a context that survives cancellation of the work itself.
	statusCtx := context.WithoutCancel(ctx)

	if err := s.queue.UpdateStatus(statusCtx, taskID, taskqueue.TaskRunning, nil, ""); err != nil {
		s.logger.Warn("task status update failed", zap.String("task", taskID), zap.Error(err))
	}

	doc, err := s.analyze(ctx, backend, cfg, in, keep)
	if err != nil {
		if errors.Is(context.Cause(ctx), errTaskCanceled) {
			return
		}
		_ = s.queue.UpdateStatus(statusCtx, taskID, taskqueue.TaskFailed, nil, err.Error())
		return
	}
	_ = s.queue.UpdateStatus(statusCtx, taskID, taskqueue.TaskCompleted,
		analyzeTaskResult{DocumentID: doc.ID, Segments: len(doc.Segments)}, "")
}

// CancelTask marks the task cancelled and stops its work if it runs here.
func (s *Service) CancelTask(ctx context.Context, id string) error {
	if s.queue == nil {
		return ErrNoTaskQueue
	}
	if err := s.queue.Cancel(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	cancel := s.running[id]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Tasks exposes the queue for task endpoints; nil when none is configured.
func (s *Service) Tasks() taskqueue.Queue { return s.queue }

// claim reserves id for this process. A deduplicated enqueue returns a task
// that is already running here.
func (s *Service) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[id]; ok {
		return false
	}
	s.running[id] = nil
	return true
}

func (s *Service) track(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.running[id] = cancel
	s.mu.Unlock()
}

func (s *Service) untrack(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

func analyzeDedupKey(in AnalyzeInput, keep bool, cfg AnalyzeConfig) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%v\x00%s\x00%s\x00", cfg.Provider, cfg.Dialect, cfg.ModelID, keep, cfg.CustomPrompt, in.Title)
	h.Write([]byte(in.Text))
	return hex.EncodeToString(h.Sum(nil))
}

// deriveTitle uses the first non-empty line, cut to a readable length.
func deriveTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line != "" {
			return truncateText(line, 60)
		}
	}
	return "Untitled"
}
