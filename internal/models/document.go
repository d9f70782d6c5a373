package models

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Segment is one chapter-like unit produced from the source text.
// Content is empty when the document was analyzed in summary-only mode.
type Segment struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content"`
}

// ReplyStatus is the terminal outcome of a model message. User messages leave it empty.
type ReplyStatus string

const (
	ReplyPending   ReplyStatus = "pending"
	ReplyCompleted ReplyStatus = "completed"
	ReplyFailed    ReplyStatus = "failed"
)

// ChatMessage is a single turn in a document conversation.
type ChatMessage struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
	Status    ReplyStatus `json:"status,omitempty"`
}

// Document owns the segment list and the chat history built on top of it.
type Document struct {
	Base
	Title        string        `json:"title"         gorm:"not null"`
	KeepOriginal bool          `json:"keep_original"`
	SourceLength int           `json:"source_length"`
	Segments     []Segment     `json:"segments"      gorm:"type:longtext;serializer:json"`
	ChatHistory  []ChatMessage `json:"chat_history"  gorm:"type:longtext;serializer:json"`
}

func (Document) TableName() string { return "documents" }

// Clone returns a copy that shares no slices with d.
func (d Document) Clone() Document {
	out := d
	out.Segments = append([]Segment(nil), d.Segments...)
	out.ChatHistory = append([]ChatMessage(nil), d.ChatHistory...)
	return out
}
