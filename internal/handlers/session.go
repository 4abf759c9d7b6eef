package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fgorczyca03/MathTutorApplication/internal/conversation"
	"github.com/fgorczyca03/MathTutorApplication/internal/ingest"
	"github.com/fgorczyca03/MathTutorApplication/internal/models"
)

type sessionManager interface {
	Create() *conversation.Session
	Get(id uuid.UUID) (*conversation.Session, error)
	Delete(id uuid.UUID) error
}

type streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID, snapshot func() models.Snapshot)
	Relays() bool
}

type SessionHandler struct {
	sessions      sessionManager
	hub           streamer
	maxImageBytes int64
}

func NewSessionHandler(sessions sessionManager, hub streamer, maxImageBytes int64) *SessionHandler {
	return &SessionHandler{
		sessions:      sessions,
		hub:           hub,
		maxImageBytes: maxImageBytes,
	}
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Create()
	writeJSON(w, http.StatusCreated, sess.Store.Snapshot())
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Store.Snapshot())
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}
	if err := h.sessions.Delete(id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session deleted"})
}

// SubmitImage accepts a multipart "file" field or a JSON {data, mime_type} body and waits for
// the tutor's first step.
func (h *SessionHandler) SubmitImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	// base64 inflates by 4/3, plus multipart/JSON framing
	bodyLimit := h.maxImageBytes*4/3 + 64*1024
	if r.ContentLength > bodyLimit {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", "Image exceeds the size limit", r))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)

	img, err := h.readImage(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = ingest.ErrTooLarge
		}
		handleServiceError(w, r, err)
		return
	}

	// The exchange outlives a dropped client: there is no cancellation.
	ctx := context.WithoutCancel(r.Context())
	if err := sess.Store.SubmitImage(ctx, img.Data, img.MIMEType); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sess.Store.Snapshot())
}

func (h *SessionHandler) SubmitText(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	accepted := sess.Store.SubmitText(context.WithoutCancel(r.Context()), req.Message)

	writeJSON(w, http.StatusOK, models.SubmitTextResponse{
		Accepted: accepted,
		Snapshot: sess.Store.Snapshot(),
	})
}

func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sess.Store.Reset()
	writeJSON(w, http.StatusOK, sess.Store.Snapshot())
}

// Stream opens the session's event stream. A session held by another instance can still be
// watched when events are relayed over Redis; that stream starts without a snapshot.
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}
	sess, err := h.sessions.Get(id)
	if err != nil {
		if errors.Is(err, conversation.ErrSessionNotFound) && h.hub.Relays() {
			h.hub.Serve(w, r, id, nil)
			return
		}
		handleServiceError(w, r, err)
		return
	}
	h.hub.Serve(w, r, sess.ID, sess.Store.Snapshot)
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*conversation.Session, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return nil, false
	}
	sess, err := h.sessions.Get(id)
	if err != nil {
		handleServiceError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (h *SessionHandler) readImage(r *http.Request) (*ingest.Image, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, err
			}
			return nil, ingest.ErrEmpty
		}
		defer file.Close()
		return ingest.FromReader(file, header.Filename, h.maxImageBytes)
	}

	var req models.ImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, ingest.ErrEmpty
	}
	return ingest.FromBase64(req.Data, req.MIMEType, h.maxImageBytes)
}
