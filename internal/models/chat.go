package models

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a transcript message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is a single transcript entry. Content is raw Markdown with LaTeX delimiters.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Image     *string   `json:"image,omitempty"` // data URI, user turns only
	CreatedAt time.Time `json:"created_at"`
}

// HistoryPart is one text part of a remote history entry.
type HistoryPart struct {
	Text string `json:"text"`
}

// HistoryEntry is the role+text projection of a Message sent back to the model as context.
type HistoryEntry struct {
	Role  Role          `json:"role"`
	Parts []HistoryPart `json:"parts"`
}

// ChatRequest is the payload sent to the messages endpoint.
type ChatRequest struct {
	Message string `json:"message"`
}

// ImageRequest is the JSON form of an image upload. Data may be bare base64 or a data URI.
type ImageRequest struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
}
