package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/fgorczyca03/MathTutorApplication/internal/models"
)

const (
	DefaultModel       = "gemini-2.5-flash"
	DefaultTemperature = float32(0.4)

	// AnalyzePrompt travels with every image upload.
	AnalyzePrompt = "Please analyze this math problem and guide me through only the first step."

	AnalyzeEmptyFallback = "I couldn't analyze this problem. Please try uploading the image again."
	ChatEmptyFallback    = "I couldn't think of a response. Could you rephrase your question?"

	rateWaitTimeout = 2 * time.Minute
)

// ErrMissingCredential is returned by every call when no API key was configured.
var ErrMissingCredential = errors.New("missing credential: GEMINI_API_KEY is not set")

// RemoteError wraps a failed Gemini call.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gemini %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// TutorConfig configures the tutor client. APIKey is required for any call to succeed.
type TutorConfig struct {
	APIKey        string
	Model         string
	Temperature   float32
	MaxConcurrent int
}

// backend is the slice of the Gemini SDK the tutor needs.
type backend interface {
	generate(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
	chat(ctx context.Context, history []*genai.Content, message genai.Part) (*genai.GenerateContentResponse, error)
	close() error
}

type genaiBackend struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func (b *genaiBackend) generate(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	return b.model.GenerateContent(ctx, parts...)
}

func (b *genaiBackend) chat(ctx context.Context, history []*genai.Content, message genai.Part) (*genai.GenerateContentResponse, error) {
	cs := b.model.StartChat()
	cs.History = history
	return cs.SendMessage(ctx, message)
}

func (b *genaiBackend) close() error {
	return b.client.Close()
}

// TutorService is a stateless wrapper around Gemini: every call carries its full context.
type TutorService struct {
	backend  backend
	rateChan chan struct{} // Token bucket
}

func NewTutorService(ctx context.Context, cfg TutorConfig) (*TutorService, error) {
	if cfg.APIKey == "" {
		log.Println("WARNING: GEMINI_API_KEY is not set, tutor calls will fail")
		return newTutorService(nil, cfg.MaxConcurrent), nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	name := cfg.Model
	if name == "" {
		name = DefaultModel
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}

	model := client.GenerativeModel(name)
	model.SetTemperature(temperature)
	model.SetTopP(0.95)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SystemInstruction)},
	}

	return newTutorService(&genaiBackend{client: client, model: model}, cfg.MaxConcurrent), nil
}

func newTutorService(b backend, concurrentReqs int) *TutorService {
	if concurrentReqs <= 0 {
		concurrentReqs = 1
	}
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}
	return &TutorService{backend: b, rateChan: rateChan}
}

func (s *TutorService) Close() {
	if s.backend != nil {
		s.backend.close()
	}
}

// acquireRate blocks until a rate slot is available
func (s *TutorService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(rateWaitTimeout):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *TutorService) releaseRate() {
	s.rateChan <- struct{}{}
}

// AnalyzeImage sends the problem photo with the first-step prompt.
func (s *TutorService) AnalyzeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	if s.backend == nil {
		return "", ErrMissingCredential
	}
	if err := s.acquireRate(ctx); err != nil {
		return "", &RemoteError{Op: "analyze", Err: err}
	}
	defer s.releaseRate()

	resp, err := s.backend.generate(ctx,
		genai.Blob{MIMEType: mimeType, Data: image},
		genai.Text(AnalyzePrompt),
	)
	if err != nil {
		return "", &RemoteError{Op: "analyze", Err: err}
	}

	text := strings.TrimSpace(extractText(resp))
	if text == "" {
		log.Println("WARNING: Gemini returned empty text for image analysis. Using fallback.")
		return AnalyzeEmptyFallback, nil
	}
	return text, nil
}

// ContinueChat seeds a chat with history and sends the next user message.
func (s *TutorService) ContinueChat(ctx context.Context, message string, history []models.HistoryEntry) (string, error) {
	if s.backend == nil {
		return "", ErrMissingCredential
	}
	if err := s.acquireRate(ctx); err != nil {
		return "", &RemoteError{Op: "chat", Err: err}
	}
	defer s.releaseRate()

	resp, err := s.backend.chat(ctx, toGenaiHistory(history), genai.Text(message))
	if err != nil {
		return "", &RemoteError{Op: "chat", Err: err}
	}

	text := strings.TrimSpace(extractText(resp))
	if text == "" {
		log.Println("WARNING: Gemini returned empty text for chat. Using fallback.")
		return ChatEmptyFallback, nil
	}
	return text, nil
}

// Helper functions

func toGenaiHistory(history []models.HistoryEntry) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, h := range history {
		parts := make([]genai.Part, 0, len(h.Parts))
		for _, p := range h.Parts {
			parts = append(parts, genai.Text(p.Text))
		}
		contents = append(contents, &genai.Content{Role: string(h.Role), Parts: parts})
	}
	return contents
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop && cand.FinishReason != genai.FinishReasonUnspecified {
			log.Printf("WARNING: Gemini candidate %d stopped due to %s", i, cand.FinishReason)
		}
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
