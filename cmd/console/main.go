package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/fgorczyca03/MathTutorApplication/internal/config"
	"github.com/fgorczyca03/MathTutorApplication/internal/conversation"
	"github.com/fgorczyca03/MathTutorApplication/internal/ingest"
	"github.com/fgorczyca03/MathTutorApplication/internal/models"
	"github.com/fgorczyca03/MathTutorApplication/internal/services"
)

const help = `Commands:
  :image <path>   upload a photo of a math problem
  :reset          start over
  :quit           exit
Anything else is sent to the tutor once a problem has been uploaded.`

func main() {
	err := mainImpl()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mainImpl() error {
	cfg := config.Load()
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	ctx := context.Background()
	tutor, err := services.NewTutorService(ctx, services.TutorConfig{
		APIKey:        cfg.GeminiAPIKey,
		Model:         cfg.GeminiModel,
		Temperature:   cfg.GeminiTemperature,
		MaxConcurrent: 1,
	})
	if err != nil {
		return err
	}
	defer tutor.Close()

	store := conversation.NewStore(uuid.New(), tutor, nil)
	renderer := newRenderer()

	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()

	fmt.Println(help)
	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or Ctrl-C
			break
		}
		line = strings.TrimSpace(line)

		switch {
		case line == ":quit":
			return nil
		case line == ":reset":
			store.Reset()
			fmt.Println("Conversation cleared.")
		case strings.HasPrefix(line, ":image"):
			path := strings.TrimSpace(strings.TrimPrefix(line, ":image"))
			if err := submitImage(ctx, store, path, cfg.MaxImageBytes); err != nil {
				fmt.Println(err)
				continue
			}
			printLastReply(store, renderer)
		default:
			if !store.SubmitText(ctx, line) {
				if strings.TrimSpace(line) != "" {
					fmt.Println("Upload a problem first with :image <path>.")
				}
				continue
			}
			printLastReply(store, renderer)
		}
	}
	return nil
}

func submitImage(ctx context.Context, store *conversation.Store, path string, limit int64) error {
	if path == "" {
		return errors.New("usage: :image <path>")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	img, err := ingest.FromReader(f, path, limit)
	if err != nil {
		return err
	}
	fmt.Println("Analyzing...")
	return store.SubmitImage(ctx, img.Data, img.MIMEType)
}

func printLastReply(store *conversation.Store, r *glamour.TermRenderer) {
	msgs := store.Snapshot().Messages
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != models.RoleModel {
		return
	}
	fmt.Print(render(r, msgs[len(msgs)-1].Content))
}

func newRenderer() *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		// Fallback to plain text if renderer initialization fails
		return nil
	}
	return r
}

// render returns the raw content if rendering fails or the renderer is unavailable.
func render(r *glamour.TermRenderer, content string) string {
	if r == nil {
		return content + "\n"
	}
	out, err := r.Render(content)
	if err != nil {
		return content + "\n"
	}
	return out
}
