// Package document persists analyzed documents and their chat history.
package document

import (
	"context"

	"github.com/mx-space/chaptr/internal/models"
	"github.com/mx-space/chaptr/internal/modules/processing/ai"
	"github.com/mx-space/chaptr/internal/pkg/pagination"
	"github.com/mx-space/chaptr/internal/pkg/response"
)

// ErrNotFound is also what LoadConversation reports, so chat callers can match it
// without importing this package.
var ErrNotFound = ai.ErrConversationNotFound

// Summary is the list view of a document.
type Summary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	KeepOriginal bool   `json:"keep_original"`
	SegmentCount int    `json:"segment_count"`
	MessageCount int    `json:"message_count"`
	Created      string `json:"created"`
}

func summarize(d models.Document) Summary {
	return Summary{
		ID:           d.ID,
		Title:        d.Title,
		KeepOriginal: d.KeepOriginal,
		SegmentCount: len(d.Segments),
		MessageCount: len(d.ChatHistory),
		Created:      d.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// Store is implemented by the MySQL store and the in-memory fallback.
type Store interface {
	ai.ConversationStore

	Create(ctx context.Context, doc *models.Document) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, q pagination.Query) ([]Summary, response.Pagination, error)
	Delete(ctx context.Context, id string) error
}

func conversationOf(d *models.Document) ai.Conversation {
	c := d.Clone()
	return ai.Conversation{Segments: c.Segments, History: c.ChatHistory}
}
