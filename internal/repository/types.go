package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Proposal ─────────────────────────────────────────────────────────────────

// PaymentTerms is the settlement term a client offers with a proposal.
type PaymentTerms string

const (
	PaymentTermsImmediate PaymentTerms = "immediate"
	PaymentTermsNet30     PaymentTerms = "net30"
	PaymentTermsNet60     PaymentTerms = "net60"
	PaymentTermsNet90     PaymentTerms = "net90"
)

// Valid reports whether t is a known payment term.
func (t PaymentTerms) Valid() bool {
	switch t {
	case PaymentTermsImmediate, PaymentTermsNet30, PaymentTermsNet60, PaymentTermsNet90:
		return true
	}
	return false
}

// Proposal is a client's custom sync licensing offer on one track.
type Proposal struct {
	ID               string          `json:"id"`
	TrackID          string          `json:"track_id"`
	ClientID         string          `json:"client_id"`
	ProducerID       string          `json:"producer_id"`
	SyncFee          decimal.Decimal `json:"sync_fee"`
	PaymentTerms     PaymentTerms    `json:"payment_terms"`
	ExpirationDate   time.Time       `json:"expiration_date"`
	IsUrgent         bool            `json:"is_urgent"`
	ProjectTitle     *string         `json:"project_title,omitempty"`
	ProjectType      *string         `json:"project_type,omitempty"`
	UsageDescription *string         `json:"usage_description,omitempty"`
	Duration         *string         `json:"duration,omitempty"`
	Territory        *string         `json:"territory,omitempty"`
	State            ProposalState   `json:"state"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsExpired reports whether the proposal can no longer receive a producer
// decision because its expiration date has passed.
func (p *Proposal) IsExpired(now time.Time) bool {
	switch p.State.Producer() {
	case ProducerExpired:
		return true
	case ProducerPending:
		return now.After(p.ExpirationDate)
	}
	return false
}

// ProposalFilter narrows ListProposals.
type ProposalFilter struct {
	ClientID   *string
	ProducerID *string
	Phase      *Phase
	Limit      int
	Offset     int
}

// ── Negotiation & history ────────────────────────────────────────────────────

// NegotiationMessage is one immutable entry in a proposal's negotiation log.
type NegotiationMessage struct {
	ID           string           `json:"id"`
	ProposalID   string           `json:"proposal_id"`
	SenderID     string           `json:"sender_id"`
	Message      string           `json:"message"`
	CounterOffer *decimal.Decimal `json:"counter_offer,omitempty"`
	CounterTerms *string          `json:"counter_terms,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// HistoryEntry records one status change on one axis of a proposal.
type HistoryEntry struct {
	ID             string    `json:"id"`
	ProposalID     string    `json:"proposal_id"`
	Axis           Axis      `json:"axis"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	ChangedBy      string    `json:"changed_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// ── Ledger ───────────────────────────────────────────────────────────────────

// ProducerBalance is the per-producer running balance.
type ProducerBalance struct {
	ProducerID       string          `json:"producer_id"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
	LifetimeEarnings decimal.Decimal `json:"lifetime_earnings"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type TransactionType string

const (
	TransactionSale       TransactionType = "sale"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionAdjustment TransactionType = "adjustment"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionRejected  TransactionStatus = "rejected"
)

// Transaction is a signed ledger movement. Positive amounts are credits.
type Transaction struct {
	ID          string            `json:"id"`
	ProducerID  string            `json:"producer_id"`
	Amount      decimal.Decimal   `json:"amount"`
	Type        TransactionType   `json:"type"`
	Status      TransactionStatus `json:"status"`
	Description string            `json:"description"`
	ReferenceID *string           `json:"reference_id,omitempty"`
	AvailableAt *time.Time        `json:"available_at,omitempty"`
	MaturedAt   *time.Time        `json:"matured_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// IsDebit reports whether the transaction moves money out.
func (t *Transaction) IsDebit() bool {
	return t.Amount.IsNegative()
}

// ── Withdrawals ──────────────────────────────────────────────────────────────

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalCompleted WithdrawalStatus = "completed"
	WithdrawalRejected  WithdrawalStatus = "rejected"
)

func (s WithdrawalStatus) Valid() bool {
	switch s {
	case WithdrawalPending, WithdrawalCompleted, WithdrawalRejected:
		return true
	}
	return false
}

// WithdrawalRequest is a producer's request to pay out available funds. It
// owns exactly one withdrawal Transaction.
type WithdrawalRequest struct {
	ID              string           `json:"id"`
	ProducerID      string           `json:"producer_id"`
	Amount          decimal.Decimal  `json:"amount"`
	PaymentMethodID string           `json:"payment_method_id"`
	Status          WithdrawalStatus `json:"status"`
	TransactionID   string           `json:"transaction_id"`
	ProcessedBy     *string          `json:"processed_by,omitempty"`
	ProcessedAt     *time.Time       `json:"processed_at,omitempty"`
	Notes           *string          `json:"notes,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// WithdrawalFilter narrows ListWithdrawals.
type WithdrawalFilter struct {
	ProducerID *string
	Status     *WithdrawalStatus
	Limit      int
	Offset     int
}
