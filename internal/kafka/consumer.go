package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader *kafka.Reader
}

// MembershipUpdate is the payload on the membership topic. The events
// service only cares about the vetting flag and scene name; everything
// else stays with the membership service.
type MembershipUpdate struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	SceneName string    `json:"scene_name"`
	Role      string    `json:"role"`
	IsVetted  bool      `json:"is_vetted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader}
}

// Start consumes membership updates until the context is cancelled.
func (c *Consumer) Start(ctx context.Context, handler func(update MembershipUpdate)) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Error reading membership message: %v", err)
			continue
		}

		var update MembershipUpdate
		if err := json.Unmarshal(msg.Value, &update); err != nil {
			log.Printf("Failed to unmarshal membership message: %v", err)
			continue
		}

		handler(update)
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
