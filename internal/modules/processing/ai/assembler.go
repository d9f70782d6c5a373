package ai

import (
	"github.com/google/uuid"
	"github.com/mx-space/chaptr/internal/models"
)

// Assembler attaches identifiers to analyzer records. Order is kept exactly.
type Assembler struct {
	// NewID defaults to a random UUID.
	NewID func() string
}

func (a Assembler) Assemble(records []RawSegment) []models.Segment {
	newID := a.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	out := make([]models.Segment, len(records))
	for i, rec := range records {
		out[i] = models.Segment{
			ID:      newID(),
			Title:   rec.Title,
			Summary: rec.Summary,
			Content: rec.Content,
		}
	}
	return out
}
