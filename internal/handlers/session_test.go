package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fgorczyca03/MathTutorApplication/internal/conversation"
	"github.com/fgorczyca03/MathTutorApplication/internal/models"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type stubTutor struct {
	reply string
	err   error
}

func (s *stubTutor) AnalyzeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	return s.reply, s.err
}

func (s *stubTutor) ContinueChat(ctx context.Context, message string, history []models.HistoryEntry) (string, error) {
	return s.reply, s.err
}

type stubStreamer struct {
	relays       bool
	served       uuid.UUID
	withSnapshot bool
}

func (s *stubStreamer) Serve(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID, snapshot func() models.Snapshot) {
	s.served = sessionID
	s.withSnapshot = snapshot != nil
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (s *stubStreamer) Relays() bool {
	return s.relays
}

func newTestHandler(tutor conversation.Tutor) (*SessionHandler, *conversation.Manager) {
	mgr := conversation.NewManager(tutor, nil, time.Hour)
	return NewSessionHandler(mgr, &stubStreamer{}, 1024), mgr
}

func withSessionID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeSnapshot(t *testing.T, rr *httptest.ResponseRecorder) models.Snapshot {
	t.Helper()
	var snap models.Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	return snap
}

func TestSessionHandler_Create(t *testing.T) {
	h, mgr := newTestHandler(&stubTutor{reply: "ok"})

	rr := httptest.NewRecorder()
	h.Create(rr, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}
	snap := decodeSnapshot(t, rr)
	if snap.SessionID == uuid.Nil || len(snap.Messages) != 0 || snap.State != models.StateIdle {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if mgr.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", mgr.Len())
	}
}

func TestSessionHandler_SubmitImageJSON(t *testing.T) {
	h, mgr := newTestHandler(&stubTutor{reply: "Let's start by identifying the function..."})
	sess := mgr.Create()

	body, _ := json.Marshal(models.ImageRequest{
		Data:     base64.StdEncoding.EncodeToString(pngBytes),
		MIMEType: "image/png",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+sess.ID.String()+"/image", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = withSessionID(req, sess.ID.String())

	rr := httptest.NewRecorder()
	h.SubmitImage(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	snap := decodeSnapshot(t, rr)
	if len(snap.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(snap.Messages))
	}
	if snap.Messages[0].Image == nil || snap.Messages[1].Image != nil {
		t.Fatalf("image should be on the user turn only")
	}
	if snap.Messages[1].Content != "Let's start by identifying the function..." {
		t.Fatalf("unexpected reply %q", snap.Messages[1].Content)
	}
}

func TestSessionHandler_SubmitImageMultipart(t *testing.T) {
	h, mgr := newTestHandler(&stubTutor{reply: "step one"})
	sess := mgr.Create()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "problem.png")
	fw.Write(pngBytes)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+sess.ID.String()+"/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req = withSessionID(req, sess.ID.String())

	rr := httptest.NewRecorder()
	h.SubmitImage(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if n := len(decodeSnapshot(t, rr).Messages); n != 2 {
		t.Fatalf("expected 2 messages, got %d", n)
	}
}

func TestSessionHandler_SubmitImageRejectsFormat(t *testing.T) {
	h, mgr := newTestHandler(&stubTutor{reply: "ok"})
	sess := mgr.Create()

	body, _ := json.Marshal(models.ImageRequest{
		Data:     base64.StdEncoding.EncodeToString([]byte("%PDF-1.7")),
		MIMEType: "application/pdf",
	})
	req := withSessionID(httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)), sess.ID.String())

	rr := httptest.NewRecorder()
	h.SubmitImage(rr, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, rr.Code)
	}
	if n := len(sess.Store.Snapshot().Messages); n != 0 {
		t.Fatalf("expected empty transcript, got %d messages", n)
	}
}

func TestSessionHandler_SubmitImageMalformedPayload(t *testing.T) {
	h, mgr := newTestHandler(&stubTutor{reply: "ok"})
	sess := mgr.Create()

	for _, body := range []string{
		`{"data":"!!!not base64","mime_type":"image/png"}`,
		`{"data":"data:image/png,abc"}`,
	} {
		req := withSessionID(httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(body))), sess.ID.String())

		rr := httptest.NewRecorder()
		h.SubmitImage(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status %d, got %d", body, http.StatusBadRequest, rr.Code)
		}
		var resp models.ErrorResponse
		json.NewDecoder(rr.Body).Decode(&resp)
		if resp.Error.Code != "VALIDATION_ERROR" {
			t.Fatalf("%s: expected VALIDATION_ERROR, got %q", body, resp.Error.Code)
		}
	}
}

func TestSessionHandler_SubmitImageTooLarge(t *testing.T) {
	h, mgr := newTestHandler(&stubTutor{reply: "ok"})
	sess := mgr.Create()

	body, _ := json.Marshal(models.ImageRequest{
		Data:     base64.StdEncoding.EncodeToString(bytes.Repeat(pngBytes, 200)),
		MIMEType: "image/png",
	})
	req := withSessionID(httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)), sess.ID.String())

	rr := httptest.NewRecorder()
	h.SubmitImage(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, rr.Code)
	}
}

func TestSessionHandler_SubmitTextWithoutImage(t *testing.T) {
	h, mgr := newTestHandler(&stubTutor{reply: "ok"})
	sess := mgr.Create()

	req := withSessionID(httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{"message":"hi"}`))), sess.ID.String())
	rr := httptest.NewRecorder()
	h.SubmitText(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp models.SubmitTextResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Accepted || len(resp.Snapshot.Messages) != 0 {
		t.Fatalf("expected rejected no-op, got %+v", resp)
	}
}

func TestSessionHandler_SubmitTextFallbackOnRemoteError(t *testing.T) {
	tutor := &stubTutor{reply: "first step"}
	h, mgr := newTestHandler(tutor)
	sess := mgr.Create()
	if err := sess.Store.SubmitImage(context.Background(), pngBytes, "image/png"); err != nil {
		t.Fatalf("SubmitImage failed: %v", err)
	}
	tutor.err = errors.New("503 from upstream")

	req := withSessionID(httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{"message":"next?"}`))), sess.ID.String())
	rr := httptest.NewRecorder()
	h.SubmitText(rr, req)

	var resp models.SubmitTextResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Accepted || len(resp.Snapshot.Messages) != 4 {
		t.Fatalf("expected accepted exchange with 4 messages, got %+v", resp)
	}
	if got := resp.Snapshot.Messages[3].Content; got != conversation.ChatErrorFallback {
		t.Fatalf("expected chat fallback, got %q", got)
	}
}

func TestSessionHandler_Reset(t *testing.T) {
	h, mgr := newTestHandler(&stubTutor{reply: "ok"})
	sess := mgr.Create()
	sess.Store.SubmitImage(context.Background(), pngBytes, "image/png")

	rr := httptest.NewRecorder()
	h.Reset(rr, withSessionID(httptest.NewRequest(http.MethodPost, "/", nil), sess.ID.String()))

	snap := decodeSnapshot(t, rr)
	if len(snap.Messages) != 0 || snap.HasStagedImage {
		t.Fatalf("expected cleared snapshot, got %+v", snap)
	}
}

func TestSessionHandler_UnknownAndInvalidSession(t *testing.T) {
	h, _ := newTestHandler(&stubTutor{reply: "ok"})

	rr := httptest.NewRecorder()
	h.Get(rr, withSessionID(httptest.NewRequest(http.MethodGet, "/", nil), "not-a-uuid"))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}

	rr = httptest.NewRecorder()
	h.Get(rr, withSessionID(httptest.NewRequest(http.MethodGet, "/", nil), uuid.New().String()))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}

	rr = httptest.NewRecorder()
	h.Delete(rr, withSessionID(httptest.NewRequest(http.MethodDelete, "/", nil), uuid.New().String()))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestSessionHandler_StreamUsesHub(t *testing.T) {
	mgr := conversation.NewManager(&stubTutor{}, nil, time.Hour)
	hub := &stubStreamer{}
	h := NewSessionHandler(mgr, hub, 1024)
	sess := mgr.Create()

	rr := httptest.NewRecorder()
	h.Stream(rr, withSessionID(httptest.NewRequest(http.MethodGet, "/", nil), sess.ID.String()))

	if hub.served != sess.ID {
		t.Fatalf("expected hub to serve session %s, got %s", sess.ID, hub.served)
	}
	if !hub.withSnapshot {
		t.Fatal("expected a local session to stream with a snapshot")
	}
}

func TestSessionHandler_StreamRemoteSession(t *testing.T) {
	mgr := conversation.NewManager(&stubTutor{reply: "ok"}, nil, time.Hour)
	remote := uuid.New()

	// Without a relay an unknown session is 404.
	local := &stubStreamer{}
	rr := httptest.NewRecorder()
	NewSessionHandler(mgr, local, 1024).Stream(rr, withSessionID(httptest.NewRequest(http.MethodGet, "/", nil), remote.String()))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without relay, got %d", rr.Code)
	}
	if local.served != uuid.Nil {
		t.Fatal("expected hub not to serve an unknown session")
	}

	relay := &stubStreamer{relays: true}
	rr = httptest.NewRecorder()
	NewSessionHandler(mgr, relay, 1024).Stream(rr, withSessionID(httptest.NewRequest(http.MethodGet, "/", nil), remote.String()))
	if relay.served != remote {
		t.Fatalf("expected relayed stream for %s, got %s", remote, relay.served)
	}
	if relay.withSnapshot {
		t.Fatal("expected a relayed stream to start without a snapshot")
	}
}

func TestHandleServiceError_Busy(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rr := httptest.NewRecorder()

	handleServiceError(rr, req, conversation.ErrBusy)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, rr.Code)
	}
	var body map[string]map[string]any
	json.NewDecoder(rr.Body).Decode(&body)
	want := map[string]any{
		"code":       "BUSY",
		"message":    "The tutor is still answering. Please wait.",
		"request_id": "abc",
	}
	if len(body["error"]) != len(want) {
		t.Fatalf("unexpected error body: %+v", body)
	}
	for k, v := range want {
		if body["error"][k] != v {
			t.Fatalf("error.%s = %v, want %v", k, body["error"][k], v)
		}
	}
}
