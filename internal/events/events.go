// Package events defines the messages emitted to collaborators after a state
// change has committed. Event ids are derived from the change they describe,
// so a redelivered event always carries the same id.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TypeProposalSubmitted  = "proposal_submitted"
	TypeProposalDecided    = "proposal_decided"
	TypeReadyForPayment    = "ready_for_payment"
	TypeWithdrawalDecided  = "withdrawal_decided"
	TypeWithdrawalApproved = "withdrawal_approved"
)

var namespace = uuid.MustParse("6f0c1c4e-54a3-4b38-9a52-1f3d7f6c2b10")

// ID returns the deterministic id of an event built from its identifying parts.
func ID(eventType string, parts ...string) string {
	name := eventType
	for _, p := range parts {
		name += "/" + p
	}
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// ProposalSubmitted tells the producer a client sent a proposal.
type ProposalSubmitted struct {
	EventID        string          `json:"event_id"`
	ProposalID     string          `json:"proposal_id"`
	TrackID        string          `json:"track_id"`
	ClientID       string          `json:"client_id"`
	ProducerID     string          `json:"producer_id"`
	SyncFee        decimal.Decimal `json:"sync_fee"`
	ExpirationDate time.Time       `json:"expiration_date"`
	IsUrgent       bool            `json:"is_urgent"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// ProposalDecided reports a status change on one axis of a proposal.
type ProposalDecided struct {
	EventID        string    `json:"event_id"`
	ProposalID     string    `json:"proposal_id"`
	Axis           string    `json:"axis"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	ActorID        string    `json:"actor_id"`
	Recipients     []string  `json:"recipients"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// ReadyForPayment asks the payment collaborator to collect the sync fee.
type ReadyForPayment struct {
	EventID      string          `json:"event_id"`
	ProposalID   string          `json:"proposal_id"`
	ClientID     string          `json:"client_id"`
	ProducerID   string          `json:"producer_id"`
	Amount       decimal.Decimal `json:"amount"`
	PaymentTerms string          `json:"payment_terms"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// WithdrawalDecided tells the producer an admin processed a withdrawal.
type WithdrawalDecided struct {
	EventID      string          `json:"event_id"`
	WithdrawalID string          `json:"withdrawal_id"`
	ProducerID   string          `json:"producer_id"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	ActorID      string          `json:"actor_id"`
	Notes        string          `json:"notes,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// WithdrawalApproved instructs the payout rails to send money.
type WithdrawalApproved struct {
	EventID         string          `json:"event_id"`
	WithdrawalID    string          `json:"withdrawal_id"`
	ProducerID      string          `json:"producer_id"`
	PaymentMethodID string          `json:"payment_method_id"`
	Amount          decimal.Decimal `json:"amount"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// PaymentCompleted is the payment collaborator's confirmation for a proposal.
type PaymentCompleted struct {
	EventID    string `json:"event_id,omitempty"`
	ProposalID string `json:"proposal_id"`
}
