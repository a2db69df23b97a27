package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/events"
)

// Subject conventions.
//
//	notifications.sync.<event_type>  consumed by the notifications service
//	payments.sync.ready              consumed by the payment collaborator
const (
	notificationSubjectPrefix = "notifications.sync."
	SubjectReadyForPayment    = "payments.sync.ready"
	SubjectPaymentCompleted   = "payments.sync.completed"
)

// NotificationPublisher publishes proposal and withdrawal events to NATS.
// Publish errors are returned so the dispatcher can retry them; they never
// reach the operation that produced the event.
type NotificationPublisher struct {
	bus MessagePublisher
}

// NotificationEvent is the JSON envelope published to notifications.sync.*.
type NotificationEvent struct {
	EventID      string   `json:"event_id"`
	EventType    string   `json:"event_type"`
	ActorID      string   `json:"actor_id"`
	Recipients   []string `json:"recipients"`
	ResourceType string   `json:"resource_type"`
	ResourceID   string   `json:"resource_id"`
	Severity     string   `json:"severity"`
	Category     string   `json:"category"`
	Payload      any      `json:"payload"`
}

// NewNotificationPublisher creates a publisher on the given bus.
func NewNotificationPublisher(bus MessagePublisher) *NotificationPublisher {
	return &NotificationPublisher{bus: bus}
}

func (p *NotificationPublisher) PublishProposalSubmitted(ctx context.Context, evt events.ProposalSubmitted) error {
	severity := "info"
	if evt.IsUrgent {
		severity = "warning"
	}
	return p.publishNotification(ctx, &NotificationEvent{
		EventID:      evt.EventID,
		EventType:    events.TypeProposalSubmitted,
		ActorID:      evt.ClientID,
		Recipients:   []string{evt.ProducerID},
		ResourceType: "sync_proposal",
		ResourceID:   evt.ProposalID,
		Severity:     severity,
		Category:     "sync_licensing",
		Payload:      evt,
	})
}

func (p *NotificationPublisher) PublishProposalDecided(ctx context.Context, evt events.ProposalDecided) error {
	return p.publishNotification(ctx, &NotificationEvent{
		EventID:      evt.EventID,
		EventType:    events.TypeProposalDecided,
		ActorID:      evt.ActorID,
		Recipients:   evt.Recipients,
		ResourceType: "sync_proposal",
		ResourceID:   evt.ProposalID,
		Severity:     "info",
		Category:     "sync_licensing",
		Payload:      evt,
	})
}

func (p *NotificationPublisher) PublishWithdrawalDecided(ctx context.Context, evt events.WithdrawalDecided) error {
	severity := "info"
	if evt.Status == "rejected" {
		severity = "warning"
	}
	return p.publishNotification(ctx, &NotificationEvent{
		EventID:      evt.EventID,
		EventType:    events.TypeWithdrawalDecided,
		ActorID:      evt.ActorID,
		Recipients:   []string{evt.ProducerID},
		ResourceType: "withdrawal",
		ResourceID:   evt.WithdrawalID,
		Severity:     severity,
		Category:     "payouts",
		Payload:      evt,
	})
}

// PublishReadyForPayment tells the payment collaborator to collect a fee.
func (p *NotificationPublisher) PublishReadyForPayment(ctx context.Context, evt events.ReadyForPayment) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", events.TypeReadyForPayment, err)
	}
	return p.bus.Publish(ctx, SubjectReadyForPayment, data, evt.EventID)
}

func (p *NotificationPublisher) publishNotification(ctx context.Context, event *NotificationEvent) error {
	if len(event.Recipients) == 0 {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", event.EventType, err)
	}
	return p.bus.Publish(ctx, notificationSubjectPrefix+event.EventType, data, event.EventID)
}
