package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fgorczyca03/MathTutorApplication/internal/config"
	"github.com/fgorczyca03/MathTutorApplication/internal/conversation"
	"github.com/fgorczyca03/MathTutorApplication/internal/database"
	"github.com/fgorczyca03/MathTutorApplication/internal/events"
	"github.com/fgorczyca03/MathTutorApplication/internal/handlers"
	"github.com/fgorczyca03/MathTutorApplication/internal/middleware"
	"github.com/fgorczyca03/MathTutorApplication/internal/router"
	"github.com/fgorczyca03/MathTutorApplication/internal/services"
	"github.com/fgorczyca03/MathTutorApplication/internal/websocket"
)

func main() {
	log.Println("🚀 Starting Math Tutor Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize Gemini Client ────
	tutorService, err := services.NewTutorService(context.Background(), services.TutorConfig{
		APIKey:        cfg.GeminiAPIKey,
		Model:         cfg.GeminiModel,
		Temperature:   cfg.GeminiTemperature,
		MaxConcurrent: cfg.GeminiConcurrentReqs,
	})
	if err != nil {
		log.Fatalf("✗ Gemini client initialization failed: %v", err)
	}
	defer tutorService.Close()
	log.Printf("✓ Gemini client initialized (%s)", cfg.GeminiModel)

	// ──── Step 3: Wire Session Events ────
	var (
		hub       *websocket.Hub
		publisher events.Publisher
	)
	if cfg.RedisURL != "" {
		redisClients, err := database.NewRedisClients(cfg.RedisURL)
		if err != nil {
			log.Fatalf("✗ Redis connection failed: %v", err)
		}
		defer redisClients.Close()
		hub = websocket.NewHub(redisClients.Subscribe)
		publisher = events.NewRedisPublisher(redisClients.Publish)
		log.Println("✓ Redis connected, session events fan out over pub/sub")
	} else {
		hub = websocket.NewHub(nil)
		publisher = hub
		log.Println("✓ Session events delivered in-process")
	}

	// ──── Step 4: Start Session Manager ────
	sessions := conversation.NewManager(tutorService, publisher, cfg.SessionIdleTimeout)
	sessions.Start()
	log.Printf("✓ Session manager started (idle timeout %s)", cfg.SessionIdleTimeout)

	// ──── Step 5: Start HTTP Server ────
	tutorLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	sessionHandler := handlers.NewSessionHandler(sessions, hub, cfg.MaxImageBytes)
	r := router.New(sessionHandler, tutorLimiter, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute, // image analysis waits on Gemini
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		sessions.Stop()
		tutorLimiter.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ Math Tutor Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/sessions/{id}/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
