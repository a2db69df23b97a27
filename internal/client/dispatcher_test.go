package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/events"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/service"
)

var _ service.Notifier = (*Dispatcher)(nil)

type publishedMessage struct {
	subject string
	data    []byte
	msgID   string
}

type fakeBus struct {
	mu       sync.Mutex
	failures int
	attempts int
	messages []publishedMessage
}

func (b *fakeBus) Publish(_ context.Context, subject string, data []byte, msgID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if b.failures > 0 {
		b.failures--
		return fmt.Errorf("nats: no responders")
	}
	b.messages = append(b.messages, publishedMessage{subject: subject, data: data, msgID: msgID})
	return nil
}

func (b *fakeBus) snapshot() (int, []publishedMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts, append([]publishedMessage(nil), b.messages...)
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func testDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{QueueSize: 8, MaxAttempts: 3, InitialBackoff: time.Millisecond, SendTimeout: time.Second}
}

func TestDispatcherRetriesUntilDelivered(t *testing.T) {
	bus := &fakeBus{failures: 2}
	d := NewDispatcher(testDispatcherConfig(), NewNotificationPublisher(bus), nil, zerolog.Nop())
	d.Start(context.Background())

	evt := events.ProposalDecided{
		EventID:    events.ID(events.TypeProposalDecided, "p-1", "producer", "accepted"),
		ProposalID: "p-1",
		Axis:       "producer",
		NewStatus:  "accepted",
		Recipients: []string{"client-1"},
	}
	d.ProposalDecided(context.Background(), evt)
	require.NoError(t, d.Close(context.Background()))

	attempts, msgs := bus.snapshot()
	assert.Equal(t, 3, attempts)
	require.Len(t, msgs, 1)
	assert.Equal(t, "notifications.sync.proposal_decided", msgs[0].subject)
	assert.Equal(t, evt.EventID, msgs[0].msgID)

	var envelope NotificationEvent
	require.NoError(t, json.Unmarshal(msgs[0].data, &envelope))
	assert.Equal(t, []string{"client-1"}, envelope.Recipients)
	assert.Equal(t, "p-1", envelope.ResourceID)
}

func TestDispatcherDropsAfterMaxAttempts(t *testing.T) {
	bus := &fakeBus{failures: 10}
	d := NewDispatcher(testDispatcherConfig(), NewNotificationPublisher(bus), nil, zerolog.Nop())
	d.Start(context.Background())

	d.ReadyForPayment(context.Background(), events.ReadyForPayment{EventID: "evt-1", ProposalID: "p-1", Amount: decimal.RequireFromString("500.00")})
	require.NoError(t, d.Close(context.Background()))

	attempts, msgs := bus.snapshot()
	assert.Equal(t, 3, attempts)
	assert.Empty(t, msgs)

	// Events after Close are dropped rather than panicking.
	d.ReadyForPayment(context.Background(), events.ReadyForPayment{EventID: "evt-2", ProposalID: "p-2"})
}

func TestDispatcherStopsRetryingWhenContextEnds(t *testing.T) {
	bus := &fakeBus{failures: 10}
	cfg := testDispatcherConfig()
	cfg.MaxAttempts = 5
	cfg.InitialBackoff = time.Hour
	d := NewDispatcher(cfg, NewNotificationPublisher(bus), nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	d.ProposalDecided(context.Background(), events.ProposalDecided{EventID: "evt-1", ProposalID: "p-1"})

	require.Eventually(t, func() bool {
		attempts, _ := bus.snapshot()
		return attempts == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	require.NoError(t, d.Close(closeCtx))

	attempts, msgs := bus.snapshot()
	assert.Equal(t, 1, attempts)
	assert.Empty(t, msgs)
}

func TestDispatcherRoutesPayoutsToKafka(t *testing.T) {
	bus := &fakeBus{}
	writer := &fakeWriter{}
	payouts := &PayoutPublisher{writer: writer, topic: "payouts.withdrawal-approved"}
	d := NewDispatcher(testDispatcherConfig(), NewNotificationPublisher(bus), payouts, zerolog.Nop())
	d.Start(context.Background())

	d.WithdrawalApproved(context.Background(), events.WithdrawalApproved{
		EventID:         "evt-w",
		WithdrawalID:    "w-1",
		ProducerID:      "producer-1",
		PaymentMethodID: "pm-1",
		Amount:          decimal.RequireFromString("120.00"),
	})
	d.WithdrawalDecided(context.Background(), events.WithdrawalDecided{
		EventID:      "evt-d",
		WithdrawalID: "w-1",
		ProducerID:   "producer-1",
		Status:       "completed",
	})
	require.NoError(t, d.Close(context.Background()))

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, "payouts.withdrawal-approved", msg.Topic)
	assert.Equal(t, "w-1", string(msg.Key))

	var payload events.WithdrawalApproved
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.True(t, payload.Amount.Equal(decimal.RequireFromString("120.00")))

	_, msgs := bus.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "notifications.sync.withdrawal_decided", msgs[0].subject)
}

func TestDispatcherWithoutPublishersIsNoop(t *testing.T) {
	d := NewDispatcher(testDispatcherConfig(), nil, nil, zerolog.Nop())
	d.Start(context.Background())
	d.ProposalSubmitted(context.Background(), events.ProposalSubmitted{EventID: "evt"})
	d.WithdrawalApproved(context.Background(), events.WithdrawalApproved{EventID: "evt"})
	assert.NoError(t, d.Close(context.Background()))
}

func TestReadyForPaymentSubject(t *testing.T) {
	bus := &fakeBus{}
	pub := NewNotificationPublisher(bus)

	require.NoError(t, pub.PublishReadyForPayment(context.Background(), events.ReadyForPayment{EventID: "evt-r", ProposalID: "p-1"}))

	_, msgs := bus.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, SubjectReadyForPayment, msgs[0].subject)
	assert.Equal(t, "evt-r", msgs[0].msgID)
}
