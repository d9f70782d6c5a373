package ai

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/mx-space/chaptr/internal/models"
)

// sliceStream replays tokens, then returns err, blocks until ctx is done, or ends.
type sliceStream struct {
	ctx    context.Context
	tokens []string
	err    error
	block  bool
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.tokens) > 0 {
		tok := s.tokens[0]
		s.tokens = s.tokens[1:]
		return tok, nil
	}
	if s.err != nil {
		return "", s.err
	}
	if s.block {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	return "", io.EOF
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

type fakeBackend struct {
	mu sync.Mutex

	records      []RawSegment
	analyzeErr   error
	blockAnalyze bool

	tokens    []string
	streamErr error
	openErr   error
	block     bool

	analyses int
	prompts  []ChatPrompt
	streams  []*sliceStream
}

func (f *fakeBackend) Analyze(ctx context.Context, _ string, _ bool, _ AnalyzeConfig) ([]RawSegment, error) {
	f.mu.Lock()
	f.analyses++
	block := f.blockAnalyze
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.records, f.analyzeErr
}

func (f *fakeBackend) OpenStream(ctx context.Context, prompt ChatPrompt, _ AnalyzeConfig) (DeltaStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := &sliceStream{ctx: ctx, tokens: append([]string(nil), f.tokens...), err: f.streamErr, block: f.block}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeBackend) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeStore struct {
	mu    sync.Mutex
	docs  map[string]*models.Document
	saves int
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]*models.Document)}
}

func (s *fakeStore) put(doc models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := doc.Clone()
	s.docs[doc.ID] = &cp
}

func (s *fakeStore) history(id string) []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil
	}
	return append([]models.ChatMessage(nil), doc.ChatHistory...)
}

func (s *fakeStore) Create(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == "" {
		doc.ID = fmt.Sprintf("doc-%d", len(s.docs)+1)
	}
	cp := doc.Clone()
	s.docs[doc.ID] = &cp
	return nil
}

func (s *fakeStore) LoadConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	c := doc.Clone()
	return Conversation{Segments: c.Segments, History: c.ChatHistory}, nil
}

func (s *fakeStore) SaveHistory(_ context.Context, id string, history []models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrConversationNotFound
	}
	doc.ChatHistory = append([]models.ChatMessage(nil), history...)
	s.saves++
	return nil
}

func testConfig() AnalyzeConfig {
	return AnalyzeConfig{Provider: ProviderCompletion, APIKey: "test-key", Temperature: 0.5}
}
