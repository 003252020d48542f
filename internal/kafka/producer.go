package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-events/internal/models"
)

// Producer is a topic-per-message Kafka writer shared by the whole
// service. Publish is fire-and-forget from the caller's point of view;
// the caller logs failures and moves on.
type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{Writer: writer}
}

func (p *Producer) Publish(topic string, key string, value []byte) error {
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// AttendanceEvent is the wire shape streamed on attendance topics.
type AttendanceEvent struct {
	RecordID     string    `json:"record_id"`
	EventID      string    `json:"event_id"`
	UserID       string    `json:"user_id"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	TicketTypeID string    `json:"ticket_type_id,omitempty"`
	CancelReason string    `json:"cancel_reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func MarshalAttendanceEvent(rec models.AttendanceRecord) ([]byte, error) {
	return json.Marshal(AttendanceEvent{
		RecordID:     rec.ID,
		EventID:      rec.EventID,
		UserID:       rec.UserID,
		Kind:         string(rec.Kind),
		Status:       string(rec.Status),
		TicketTypeID: rec.TicketTypeID,
		CancelReason: rec.CancelReason,
		OccurredAt:   time.Now(),
	})
}
