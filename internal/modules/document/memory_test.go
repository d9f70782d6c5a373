package document

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mx-space/chaptr/internal/models"
	"github.com/mx-space/chaptr/internal/pkg/pagination"
)

func TestMemoryStore_lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	doc := &models.Document{
		Title:    "Book",
		Segments: []models.Segment{{ID: "s1", Title: "One"}},
	}
	if err := s.Create(ctx, doc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if doc.ID == "" {
		t.Fatal("Create did not assign an id")
	}

	got, err := s.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Segments[0].Title = "changed"
	again, _ := s.Get(ctx, doc.ID)
	if again.Segments[0].Title != "One" {
		t.Fatal("Get returned shared segment storage")
	}

	history := []models.ChatMessage{{ID: "m1", Role: models.RoleUser, Text: "hi"}}
	if err := s.SaveHistory(ctx, doc.ID, history); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}
	conv, err := s.LoadConversation(ctx, doc.ID)
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if len(conv.History) != 1 || len(conv.Segments) != 1 {
		t.Fatalf("conversation = %+v", conv)
	}

	if err := s.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
	if err := s.SaveHistory(ctx, doc.ID, history); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveHistory after delete: %v", err)
	}
}

func TestMemoryStore_listNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, title := range []string{"a", "b", "c"} {
		_ = s.Create(ctx, &models.Document{Title: title, Base: models.Base{CreatedAt: base.Add(time.Duration(i) * time.Hour)}})
	}

	items, pag, err := s.List(ctx, pagination.Query{Page: 1, Size: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 || items[0].Title != "c" || items[1].Title != "b" {
		t.Fatalf("items = %+v", items)
	}
	if pag.Total != 3 || !pag.HasNextPage {
		t.Fatalf("pagination = %+v", pag)
	}
}
