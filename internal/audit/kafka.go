package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"proofgate/internal/platform/kafka"
)

// kafkaEvent is the wire form of an Event on the audit topic.
type kafkaEvent struct {
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	RawScore  int       `json:"raw_score,omitempty"`
	Composite int       `json:"composite,omitempty"`
}

// KafkaSink publishes audit events to the audit topic, keyed by user so a
// user's events stay ordered within a partition.
type KafkaSink struct {
	producer *kafka.Producer
}

func NewKafkaSink(producer *kafka.Producer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Append(ctx context.Context, event Event) error {
	value, err := json.Marshal(kafkaEvent{
		Category:  string(event.Category),
		Timestamp: event.Timestamp,
		UserID:    event.UserID.String(),
		SessionID: event.SessionID.String(),
		Channel:   event.Channel,
		Action:    event.Action,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		RawScore:  event.RawScore,
		Composite: event.Composite,
	})
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return s.producer.Produce(ctx, []byte(event.UserID.String()), value)
}
