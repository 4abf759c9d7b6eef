// Package conversation holds tutoring transcripts and sequences their exchanges with the tutor.
package conversation

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fgorczyca03/MathTutorApplication/internal/events"
	"github.com/fgorczyca03/MathTutorApplication/internal/ingest"
	"github.com/fgorczyca03/MathTutorApplication/internal/models"
)

const (
	// ImageTurnText is the content of the user turn that carries a problem photo.
	ImageTurnText = "Here's the problem I'm working on."

	AnalyzeErrorFallback = "Sorry, I had trouble analyzing that image. Please try again with a clearer photo."
	ChatErrorFallback    = "Sorry, I ran into a problem answering that. Please try again."
)

var (
	ErrBusy         = errors.New("a tutor request is already in flight")
	ErrInvalidImage = errors.New("exactly one non-empty image with an image/* MIME type is required")
)

// Tutor is the remote tutoring model.
type Tutor interface {
	AnalyzeImage(ctx context.Context, image []byte, mimeType string) (string, error)
	ContinueChat(ctx context.Context, message string, history []models.HistoryEntry) (string, error)
}

// Store is one conversation: an append-only transcript plus its request state.
//
// At most one tutor call per generation is outstanding. Reset advances the generation, and a
// reply that comes back for an older generation is dropped.
type Store struct {
	id        uuid.UUID
	tutor     Tutor
	publisher events.Publisher
	now       func() time.Time

	// pubMu is taken before mu is released, so events go out in mutation order.
	pubMu sync.Mutex

	mu         sync.Mutex
	messages   []models.Message
	state      models.RequestState
	staged     *string
	generation uint64
	updatedAt  time.Time
}

func NewStore(id uuid.UUID, tutor Tutor, publisher events.Publisher) *Store {
	if publisher == nil {
		publisher = events.Discard{}
	}
	s := &Store{
		id:        id,
		tutor:     tutor,
		publisher: publisher,
		now:       time.Now,
		state:     models.StateIdle,
	}
	s.updatedAt = s.now()
	return s
}

func (s *Store) ID() uuid.UUID {
	return s.id
}

// SubmitImage appends the image turn, asks the tutor for a first step and appends its reply.
// Remote failures become a fallback reply; only ErrBusy and ErrInvalidImage are returned.
func (s *Store) SubmitImage(ctx context.Context, image []byte, mimeType string) error {
	if len(image) == 0 || !strings.HasPrefix(mimeType, "image/") {
		return ErrInvalidImage
	}
	dataURI := ingest.DataURI(mimeType, image)

	s.mu.Lock()
	if s.state == models.StateRequesting {
		s.mu.Unlock()
		return ErrBusy
	}
	gen := s.generation
	s.state = models.StateRequesting
	s.staged = &dataURI
	pending := []models.WSMessage{
		s.stateEventLocked(),
		s.appendLocked(models.RoleUser, ImageTurnText, &dataURI),
	}
	s.unlockAndPublish(ctx, pending)

	reply, err := s.tutor.AnalyzeImage(ctx, image, mimeType)
	if err != nil {
		log.Printf("session %s: image analysis failed: %v", s.id, err)
		reply = AnalyzeErrorFallback
	}

	s.complete(ctx, gen, reply)
	return nil
}

// SubmitText continues the conversation. It is a no-op, returning false, when the text is blank,
// a request is in flight, or no problem image has been submitted yet.
func (s *Store) SubmitText(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	s.mu.Lock()
	if s.state == models.StateRequesting || !s.hasImageTurnLocked() {
		s.mu.Unlock()
		return false
	}
	gen := s.generation
	history := projectHistory(s.messages)
	s.state = models.StateRequesting
	pending := []models.WSMessage{
		s.stateEventLocked(),
		s.appendLocked(models.RoleUser, text, nil),
	}
	s.unlockAndPublish(ctx, pending)

	reply, err := s.tutor.ContinueChat(ctx, text, history)
	if err != nil {
		log.Printf("session %s: chat failed: %v", s.id, err)
		reply = ChatErrorFallback
	}

	s.complete(ctx, gen, reply)
	return true
}

// Reset clears the transcript and staged image. An outstanding call is not cancelled; its reply
// is discarded when it arrives.
func (s *Store) Reset() {
	s.mu.Lock()
	s.messages = nil
	s.staged = nil
	s.state = models.StateIdle
	s.generation++
	s.updatedAt = s.now()
	evt := models.WSMessage{
		Type:    models.EventReset,
		Payload: models.ResetEvent{SessionID: s.id, Generation: s.generation},
	}
	s.unlockAndPublish(context.Background(), []models.WSMessage{evt})
}

func (s *Store) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]models.Message, len(s.messages))
	copy(msgs, s.messages)
	return models.Snapshot{
		SessionID:      s.id,
		State:          s.state,
		HasStagedImage: s.staged != nil,
		Generation:     s.generation,
		Messages:       msgs,
		UpdatedAt:      s.updatedAt,
	}
}

// IsLoading reports whether a tutor call is outstanding for the current generation.
func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == models.StateRequesting
}

func (s *Store) complete(ctx context.Context, gen uint64, reply string) {
	s.mu.Lock()
	if s.generation != gen {
		current := s.generation
		s.mu.Unlock()
		log.Printf("session %s: dropping reply for generation %d (current %d)", s.id, gen, current)
		return
	}
	pending := []models.WSMessage{s.appendLocked(models.RoleModel, reply, nil)}
	s.staged = nil
	s.state = models.StateIdle
	pending = append(pending, s.stateEventLocked())
	s.unlockAndPublish(ctx, pending)
}

func (s *Store) appendLocked(role models.Role, content string, image *string) models.WSMessage {
	msg := models.Message{
		ID:        uuid.New(),
		Role:      role,
		Content:   content,
		Image:     image,
		CreatedAt: s.now(),
	}
	s.messages = append(s.messages, msg)
	s.updatedAt = msg.CreatedAt
	return models.WSMessage{
		Type:    models.EventMessageAppended,
		Payload: models.MessageAppended{SessionID: s.id, Generation: s.generation, Message: msg},
	}
}

func (s *Store) stateEventLocked() models.WSMessage {
	return models.WSMessage{
		Type: models.EventStateChanged,
		Payload: models.StateChanged{
			SessionID:      s.id,
			Generation:     s.generation,
			State:          s.state,
			HasStagedImage: s.staged != nil,
		},
	}
}

func (s *Store) hasImageTurnLocked() bool {
	for _, m := range s.messages {
		if m.Role == models.RoleUser && m.Image != nil {
			return true
		}
	}
	return false
}

// unlockAndPublish releases mu and publishes msgs ahead of any later mutation's events.
// The caller must hold mu.
func (s *Store) unlockAndPublish(ctx context.Context, msgs []models.WSMessage) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.mu.Unlock()

	for _, m := range msgs {
		s.publisher.Publish(ctx, s.id, m)
	}
}

// projectHistory maps messages to role+text entries. Images never enter the history.
func projectHistory(msgs []models.Message) []models.HistoryEntry {
	history := make([]models.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, models.HistoryEntry{
			Role:  m.Role,
			Parts: []models.HistoryPart{{Text: m.Content}},
		})
	}
	return history
}
