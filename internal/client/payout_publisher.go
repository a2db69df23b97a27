package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/events"
)

// kafkaWriter is the part of *kafka.Writer the publisher uses.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PayoutPublisher hands approved withdrawals to the payout rails over Kafka.
// Messages are keyed by withdrawal id so every event for one withdrawal
// lands on the same partition.
type PayoutPublisher struct {
	writer kafkaWriter
	topic  string
}

// NewPayoutPublisher creates a publisher writing to topic.
func NewPayoutPublisher(brokers []string, topic string) (*PayoutPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher requires a topic")
	}
	return &PayoutPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

// PublishWithdrawalApproved writes one WithdrawalApproved message.
func (p *PayoutPublisher) PublishWithdrawalApproved(ctx context.Context, evt events.WithdrawalApproved) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", events.TypeWithdrawalApproved, err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(evt.WithdrawalID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(evt.EventID)},
			{Key: "event_type", Value: []byte(events.TypeWithdrawalApproved)},
		},
		Time: time.Now().UTC(),
	})
}

func (p *PayoutPublisher) Close() error {
	return p.writer.Close()
}
