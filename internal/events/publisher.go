// Package events streams recorded operation events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/yourorg/payment-flow/internal/payment"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OperationEventMessage is the JSON value of each Kafka message. Messages are
// keyed by payment method id so one method's events stay ordered within a
// partition.
type OperationEventMessage struct {
	ID              int64                   `json:"id"`
	PaymentMethodID string                  `json:"payment_method_id"`
	Type            payment.OperationType   `json:"type"`
	Status          payment.OperationStatus `json:"status"`
	CreatedAt       time.Time               `json:"created_at"`
}

// Publisher implements saga.Publisher on top of a Kafka writer.
type Publisher struct {
	writer MessageWriter
	log    zerolog.Logger
}

// NewKafkaWriter builds a writer that hashes message keys to partitions.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// NewPublisher wraps w.
func NewPublisher(w MessageWriter, logger zerolog.Logger) *Publisher {
	return &Publisher{
		writer: w,
		log:    logger.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish writes evt as one message.
func (p *Publisher) Publish(ctx context.Context, evt payment.OperationEvent) error {
	value, err := json.Marshal(OperationEventMessage{
		ID:              evt.ID,
		PaymentMethodID: evt.PaymentMethodID,
		Type:            evt.Type,
		Status:          evt.Status,
		CreatedAt:       evt.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode operation event %d: %w", evt.ID, err)
	}

	msg := kafka.Message{
		Key:   []byte(evt.PaymentMethodID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "operation_type", Value: []byte(evt.Type)},
			{Key: "operation_status", Value: []byte(evt.Status)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish operation event %d: %w", evt.ID, err)
	}
	p.log.Debug().
		Int64("event_id", evt.ID).
		Str("payment_method_id", evt.PaymentMethodID).
		Str("type", string(evt.Type)).
		Str("status", string(evt.Status)).
		Msg("operation event published")
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
