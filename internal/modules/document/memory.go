package document

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mx-space/chaptr/internal/models"
	"github.com/mx-space/chaptr/internal/modules/processing/ai"
	"github.com/mx-space/chaptr/internal/pkg/pagination"
	"github.com/mx-space/chaptr/internal/pkg/response"
)

// MemoryStore keeps documents in process. It is used when no database is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]models.Document
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]models.Document), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, doc *models.Document) error {
	now := s.now()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	s.mu.Lock()
	s.docs[doc.ID] = doc.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	doc, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	out := doc.Clone()
	return &out, nil
}

func (s *MemoryStore) List(_ context.Context, q pagination.Query) ([]Summary, response.Pagination, error) {
	s.mu.RLock()
	all := make([]models.Document, 0, len(s.docs))
	for _, d := range s.docs {
		all = append(all, d)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	page, pag := pagination.Slice(all, q)
	out := make([]Summary, len(page))
	for i, d := range page {
		out[i] = summarize(d)
	}
	return out, pag, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

func (s *MemoryStore) LoadConversation(_ context.Context, id string) (ai.Conversation, error) {
	s.mu.RLock()
	doc, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return ai.Conversation{}, ErrNotFound
	}
	return conversationOf(&doc), nil
}

func (s *MemoryStore) SaveHistory(_ context.Context, id string, history []models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.ChatHistory = append([]models.ChatMessage(nil), history...)
	doc.UpdatedAt = s.now()
	s.docs[id] = doc
	return nil
}
