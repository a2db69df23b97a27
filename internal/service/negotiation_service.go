package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/identity"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/logger"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/repository"
)

// NegotiationService handles the message thread between client and
// producer while a proposal awaits the producer.
type NegotiationService struct {
	store repository.Store
	log   *logger.Logger
	now   func() time.Time
}

// NewNegotiationService creates a new negotiation service.
func NewNegotiationService(store repository.Store, log *logger.Logger, opts ...Option) *NegotiationService {
	o := buildOptions(opts)
	return &NegotiationService{store: store, log: log, now: o.now}
}

// PostMessageRequest represents a negotiation message.
type PostMessageRequest struct {
	ProposalID   string
	Message      string
	CounterOffer *decimal.Decimal
	CounterTerms *string
}

// PostMessage appends a message to the proposal's negotiation log. The
// proposal row is locked so a message cannot land after a producer decision
// has committed.
func (s *NegotiationService) PostMessage(ctx context.Context, actor identity.Actor, req *PostMessageRequest) (*repository.NegotiationMessage, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, errors.InvalidInput("message", "message is required")
	}
	if req.CounterOffer != nil && !req.CounterOffer.IsPositive() {
		return nil, errors.InvalidInput("counter_offer", "counter offer must be greater than zero")
	}
	if req.CounterOffer != nil {
		if err := validateMoney("counter_offer", *req.CounterOffer); err != nil {
			return nil, err
		}
	}
	var counterTerms *string
	if req.CounterTerms != nil {
		counterTerms = strPtr(strings.TrimSpace(*req.CounterTerms))
	}

	var msg *repository.NegotiationMessage
	err := inTransaction(ctx, s.store, func(tx repository.Tx) error {
		p, err := tx.LockProposal(ctx, req.ProposalID)
		if err != nil {
			return err
		}
		if actor.ID != p.ClientID && actor.ID != p.ProducerID {
			return errors.Forbidden("only the proposal's client or producer may negotiate")
		}

		now := s.now()
		if p.State.Producer() != repository.ProducerPending {
			return errors.InvalidTransition("proposal %s is %s, negotiation is closed", p.ID, p.State.Phase())
		}
		if p.IsExpired(now) {
			return errors.InvalidTransition("proposal %s has expired", p.ID)
		}

		msg = &repository.NegotiationMessage{
			ID:           uuid.NewString(),
			ProposalID:   p.ID,
			SenderID:     actor.ID,
			Message:      text,
			CounterOffer: req.CounterOffer,
			CounterTerms: counterTerms,
			CreatedAt:    now,
		}
		return tx.InsertMessage(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	ev := s.log.Info().
		Str("proposal_id", msg.ProposalID).
		Str("sender_id", msg.SenderID).
		Str("message_id", msg.ID)
	if msg.CounterOffer != nil {
		ev = ev.Str("counter_offer", msg.CounterOffer.StringFixed(2))
	}
	ev.Msg("Negotiation message posted")

	return msg, nil
}

// ListMessages returns the negotiation log in creation order.
func (s *NegotiationService) ListMessages(ctx context.Context, actor identity.Actor, proposalID string) ([]*repository.NegotiationMessage, error) {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := authorizeParty(actor, p); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, proposalID)
}
