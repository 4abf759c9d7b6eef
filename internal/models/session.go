package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestState is the tagged request state of a conversation.
type RequestState string

const (
	StateIdle       RequestState = "idle"
	StateRequesting RequestState = "requesting"
)

// Snapshot is a point-in-time copy of a conversation.
type Snapshot struct {
	SessionID      uuid.UUID    `json:"session_id"`
	State          RequestState `json:"state"`
	HasStagedImage bool         `json:"has_staged_image"`
	Generation     uint64       `json:"generation"`
	Messages       []Message    `json:"messages"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// IsLoading reports whether a remote call is outstanding.
func (s Snapshot) IsLoading() bool {
	return s.State == StateRequesting
}

// SubmitTextResponse wraps a snapshot with whether the text was taken into the transcript.
type SubmitTextResponse struct {
	Accepted bool     `json:"accepted"`
	Snapshot Snapshot `json:"snapshot"`
}

// WebSocket message types
const (
	EventMessageAppended = "message_appended"
	EventStateChanged    = "state_changed"
	EventReset           = "reset"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type MessageAppended struct {
	SessionID  uuid.UUID `json:"session_id"`
	Generation uint64    `json:"generation"`
	Message    Message   `json:"message"`
}

type StateChanged struct {
	SessionID      uuid.UUID    `json:"session_id"`
	Generation     uint64       `json:"generation"`
	State          RequestState `json:"state"`
	HasStagedImage bool         `json:"has_staged_image"`
}

type ResetEvent struct {
	SessionID  uuid.UUID `json:"session_id"`
	Generation uint64    `json:"generation"`
}

// API Error response
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
