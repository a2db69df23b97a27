package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/events"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/service"
)

const (
	// PaymentsStream is the JetStream stream holding payment confirmations.
	PaymentsStream = "SYNC_PAYMENTS"
	// PaymentsConsumer is the durable consumer shared by every replica.
	PaymentsConsumer = "sync-settlement"
)

// PaymentHandler applies one payment confirmation.
type PaymentHandler interface {
	Handle(ctx context.Context, evt events.PaymentCompleted, source string) (*service.PaymentResult, error)
}

// paymentMessage is the part of jetstream.Msg the subscriber uses.
type paymentMessage interface {
	Data() []byte
	Headers() nats.Header
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// PaymentSubscriber consumes PaymentCompleted confirmations from a durable
// JetStream consumer. A confirmation is acknowledged only once it has been
// recorded or can never apply; anything else is redelivered.
type PaymentSubscriber struct {
	nats       *NATSClient
	handler    PaymentHandler
	timeout    time.Duration
	retryDelay time.Duration
	log        zerolog.Logger
	consume    jetstream.ConsumeContext
}

// NewPaymentSubscriber creates a subscriber. Call Start to begin consuming.
func NewPaymentSubscriber(nc *NATSClient, handler PaymentHandler, log zerolog.Logger) *PaymentSubscriber {
	return &PaymentSubscriber{
		nats:       nc,
		handler:    handler,
		timeout:    10 * time.Second,
		retryDelay: 5 * time.Second,
		log:        log,
	}
}

// Start ensures the payments stream and durable consumer exist and begins
// consuming payments.sync.completed.
func (s *PaymentSubscriber) Start(ctx context.Context) error {
	js, err := s.nats.JetStream()
	if err != nil {
		return err
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       PaymentsStream,
		Subjects:   []string{SubjectPaymentCompleted},
		Storage:    jetstream.FileStorage,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", PaymentsStream, err)
	}
	consumer, err := js.CreateOrUpdateConsumer(ctx, PaymentsStream, jetstream.ConsumerConfig{
		Durable:       PaymentsConsumer,
		FilterSubject: SubjectPaymentCompleted,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       s.timeout + 5*time.Second,
		MaxDeliver:    -1,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer %s: %w", PaymentsConsumer, err)
	}
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.process(msg)
	})
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", SubjectPaymentCompleted, err)
	}
	s.consume = cc
	return nil
}

// Stop stops pulling new messages. Unacknowledged ones are redelivered.
func (s *PaymentSubscriber) Stop() {
	if s.consume != nil {
		s.consume.Stop()
	}
}

func (s *PaymentSubscriber) process(msg paymentMessage) {
	var ackErr error
	switch s.handle(msg.Data(), msg.Headers().Get(nats.MsgIdHdr)) {
	case deliveryDone:
		ackErr = msg.Ack()
	case deliveryRetry:
		ackErr = msg.NakWithDelay(s.retryDelay)
	case deliveryPoison:
		ackErr = msg.Term()
	}
	if ackErr != nil {
		s.log.Warn().Err(ackErr).Msg("payments: failed to acknowledge message")
	}
}

type deliveryOutcome int

const (
	deliveryDone deliveryOutcome = iota
	deliveryRetry
	deliveryPoison
)

func (s *PaymentSubscriber) handle(data []byte, headerID string) deliveryOutcome {
	var evt events.PaymentCompleted
	if err := json.Unmarshal(data, &evt); err != nil {
		s.log.Warn().Err(err).Msg("payments: malformed PaymentCompleted message dropped")
		return deliveryPoison
	}
	if evt.EventID == "" {
		evt.EventID = headerID
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	res, err := s.handler.Handle(ctx, evt, "nats")
	if err == nil {
		if !res.Duplicate {
			s.log.Debug().Str("proposal_id", evt.ProposalID).Msg("payments: payment recorded")
		}
		return deliveryDone
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeInvalidTransition, errors.ErrCodeNotFound, errors.ErrCodeValidation:
		s.log.Info().Str("proposal_id", evt.ProposalID).Err(err).Msg("payments: confirmation does not apply, ignored")
		return deliveryDone
	default:
		s.log.Error().Err(err).Str("proposal_id", evt.ProposalID).Str("event_id", evt.EventID).Msg("payments: failed to record payment, will retry")
		return deliveryRetry
	}
}
