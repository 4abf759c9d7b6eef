package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fgorczyca03/MathTutorApplication/internal/models"
)

// Publisher receives transcript events for a session.
type Publisher interface {
	Publish(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage)
}

// Channel is the Redis pub/sub channel carrying a session's events.
func Channel(sessionID uuid.UUID) string {
	return fmt.Sprintf("session_updates:%s", sessionID.String())
}

// RedisPublisher sends WebSocket updates via Redis pub/sub
type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("failed to encode %s event for session %s: %v", msg.Type, sessionID, err)
		return
	}
	if err := p.redis.Publish(ctx, Channel(sessionID), string(data)).Err(); err != nil {
		log.Printf("failed to publish %s event for session %s: %v", msg.Type, sessionID, err)
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, uuid.UUID, models.WSMessage) {}
