package repository

import (
	"encoding/json"
	"fmt"
)

type ProducerStatus string

const (
	ProducerPending  ProducerStatus = "pending"
	ProducerAccepted ProducerStatus = "accepted"
	ProducerRejected ProducerStatus = "rejected"
	ProducerExpired  ProducerStatus = "expired"
)

type ClientStatus string

const (
	ClientPending  ClientStatus = "pending"
	ClientAccepted ClientStatus = "accepted"
	ClientRejected ClientStatus = "rejected"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// Decision is a party's answer to a proposal.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Valid reports whether d is accept or reject.
func (d Decision) Valid() bool {
	return d == DecisionAccept || d == DecisionReject
}

// Axis names one of the three independent status fields.
type Axis string

const (
	AxisProducer Axis = "producer"
	AxisClient   Axis = "client"
	AxisPayment  Axis = "payment"
)

// Phase is the single derived stage of a proposal.
type Phase string

const (
	PhaseProducerPending  Phase = "producer_pending"
	PhaseClientPending    Phase = "client_pending"
	PhasePaymentPending   Phase = "payment_pending"
	PhaseSettled          Phase = "settled"
	PhaseProducerRejected Phase = "producer_rejected"
	PhaseClientRejected   Phase = "client_rejected"
	PhaseExpired          Phase = "expired"
)

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseProducerPending, PhaseClientPending, PhasePaymentPending, PhaseSettled,
		PhaseProducerRejected, PhaseClientRejected, PhaseExpired:
		return p, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// StatusChange describes one axis moving from one value to another.
type StatusChange struct {
	Axis Axis
	From string
	To   string
}

// ErrIllegalState is returned when a combination of axis values violates the
// unlock ordering producer → client → payment.
type ErrIllegalState struct {
	Producer ProducerStatus
	Client   ClientStatus
	Payment  PaymentStatus
}

func (e *ErrIllegalState) Error() string {
	return fmt.Sprintf("illegal proposal state producer=%s client=%s payment=%s", e.Producer, e.Client, e.Payment)
}

// ProposalState is the status triple of a proposal. The zero value is not
// valid; use NewProposalState or InitialProposalState. Only the Apply*
// methods produce successor states, so an illegal combination cannot be
// constructed.
type ProposalState struct {
	producer ProducerStatus
	client   ClientStatus
	payment  PaymentStatus
}

// InitialProposalState is the state of a freshly submitted proposal.
func InitialProposalState() ProposalState {
	return ProposalState{producer: ProducerPending, client: ClientPending, payment: PaymentPending}
}

// NewProposalState validates and builds a state from stored values.
func NewProposalState(producer ProducerStatus, client ClientStatus, payment PaymentStatus) (ProposalState, error) {
	illegal := &ErrIllegalState{Producer: producer, Client: client, Payment: payment}

	switch producer {
	case ProducerPending, ProducerAccepted, ProducerRejected, ProducerExpired:
	default:
		return ProposalState{}, illegal
	}
	switch client {
	case ClientPending:
	case ClientAccepted, ClientRejected:
		if producer != ProducerAccepted {
			return ProposalState{}, illegal
		}
	default:
		return ProposalState{}, illegal
	}
	switch payment {
	case PaymentPending:
	case PaymentPaid:
		if client != ClientAccepted {
			return ProposalState{}, illegal
		}
	default:
		return ProposalState{}, illegal
	}

	return ProposalState{producer: producer, client: client, payment: payment}, nil
}

func (s ProposalState) Producer() ProducerStatus { return s.producer }
func (s ProposalState) Client() ClientStatus     { return s.client }
func (s ProposalState) Payment() PaymentStatus   { return s.payment }

// Phase derives the single current stage.
func (s ProposalState) Phase() Phase {
	switch s.producer {
	case ProducerExpired:
		return PhaseExpired
	case ProducerRejected:
		return PhaseProducerRejected
	case ProducerPending:
		return PhaseProducerPending
	}
	switch s.client {
	case ClientRejected:
		return PhaseClientRejected
	case ClientPending:
		return PhaseClientPending
	}
	if s.payment == PaymentPaid {
		return PhaseSettled
	}
	return PhasePaymentPending
}

// IsTerminal reports whether no further transition is possible.
func (s ProposalState) IsTerminal() bool {
	switch s.Phase() {
	case PhaseSettled, PhaseProducerRejected, PhaseClientRejected, PhaseExpired:
		return true
	}
	return false
}

// ApplyProducerDecision returns the state after the producer decides.
func (s ProposalState) ApplyProducerDecision(d Decision) (ProposalState, StatusChange, error) {
	if s.producer != ProducerPending {
		return s, StatusChange{}, fmt.Errorf("producer status is %s, not pending", s.producer)
	}
	next := s
	switch d {
	case DecisionAccept:
		next.producer = ProducerAccepted
	case DecisionReject:
		next.producer = ProducerRejected
	default:
		return s, StatusChange{}, fmt.Errorf("unknown decision %q", d)
	}
	return next, StatusChange{Axis: AxisProducer, From: string(s.producer), To: string(next.producer)}, nil
}

// ApplyClientDecision returns the state after the client decides.
func (s ProposalState) ApplyClientDecision(d Decision) (ProposalState, StatusChange, error) {
	if s.producer != ProducerAccepted {
		return s, StatusChange{}, fmt.Errorf("producer status is %s, not accepted", s.producer)
	}
	if s.client != ClientPending {
		return s, StatusChange{}, fmt.Errorf("client status is %s, not pending", s.client)
	}
	next := s
	switch d {
	case DecisionAccept:
		next.client = ClientAccepted
	case DecisionReject:
		next.client = ClientRejected
	default:
		return s, StatusChange{}, fmt.Errorf("unknown decision %q", d)
	}
	return next, StatusChange{Axis: AxisClient, From: string(s.client), To: string(next.client)}, nil
}

// ApplyPayment returns the state after the payment collaborator confirms.
func (s ProposalState) ApplyPayment() (ProposalState, StatusChange, error) {
	if s.client != ClientAccepted {
		return s, StatusChange{}, fmt.Errorf("client status is %s, not accepted", s.client)
	}
	if s.payment != PaymentPending {
		return s, StatusChange{}, fmt.Errorf("payment status is %s, not pending", s.payment)
	}
	next := s
	next.payment = PaymentPaid
	return next, StatusChange{Axis: AxisPayment, From: string(s.payment), To: string(next.payment)}, nil
}

// ApplyExpiry returns the state after the expiration sweep.
func (s ProposalState) ApplyExpiry() (ProposalState, StatusChange, error) {
	if s.producer != ProducerPending {
		return s, StatusChange{}, fmt.Errorf("producer status is %s, not pending", s.producer)
	}
	next := s
	next.producer = ProducerExpired
	return next, StatusChange{Axis: AxisProducer, From: string(s.producer), To: string(next.producer)}, nil
}

type proposalStateJSON struct {
	ProducerStatus ProducerStatus `json:"producer_status"`
	ClientStatus   ClientStatus   `json:"client_status"`
	PaymentStatus  PaymentStatus  `json:"payment_status"`
	Phase          Phase          `json:"phase"`
}

func (s ProposalState) MarshalJSON() ([]byte, error) {
	return json.Marshal(proposalStateJSON{
		ProducerStatus: s.producer,
		ClientStatus:   s.client,
		PaymentStatus:  s.payment,
		Phase:          s.Phase(),
	})
}

func (s *ProposalState) UnmarshalJSON(data []byte) error {
	var raw proposalStateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, err := NewProposalState(raw.ProducerStatus, raw.ClientStatus, raw.PaymentStatus)
	if err != nil {
		return err
	}
	*s = st
	return nil
}
