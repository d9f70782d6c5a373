package document

import (
	"context"
	"errors"

	"github.com/mx-space/chaptr/internal/models"
	"github.com/mx-space/chaptr/internal/modules/processing/ai"
	"github.com/mx-space/chaptr/internal/pkg/pagination"
	"github.com/mx-space/chaptr/internal/pkg/response"
	"gorm.io/gorm"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, doc *models.Document) error {
	return s.db.WithContext(ctx).Create(doc).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := s.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (s *GormStore) List(ctx context.Context, q pagination.Query) ([]Summary, response.Pagination, error) {
	tx := s.db.WithContext(ctx).Model(&models.Document{}).Order("created_at DESC")
	var docs []models.Document
	pag, err := pagination.Paginate(tx, q, &docs)
	if err != nil {
		return nil, pag, err
	}
	out := make([]Summary, len(docs))
	for i, d := range docs {
		out[i] = summarize(d)
	}
	return out, pag, nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&models.Document{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) LoadConversation(ctx context.Context, id string) (ai.Conversation, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return ai.Conversation{}, err
	}
	return conversationOf(doc), nil
}

// SaveHistory replaces the stored chat history. Only the history column is written.
func (s *GormStore) SaveHistory(ctx context.Context, id string, history []models.ChatMessage) error {
	doc := models.Document{ChatHistory: history}
	result := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ?", id).
		Select("chat_history", "updated_at").
		Updates(&doc)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL reports 0 for a write that changed nothing.
		var n int64
		if err := s.db.WithContext(ctx).Model(&models.Document{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	return nil
}
