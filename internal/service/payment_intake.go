package service

import (
	"context"
	"strings"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/events"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/logger"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/repository"
)

// Deduper remembers event ids that were already processed.
type Deduper interface {
	// Claim reports whether eventID is new.
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// PaymentIntake accepts PaymentCompleted confirmations from any transport
// and applies each one at most once.
type PaymentIntake struct {
	proposals *ProposalService
	deduper   Deduper
	log       *logger.Logger
}

// NewPaymentIntake creates an intake. deduper may be nil, or fail, in which
// case duplicates are still caught by the proposal's payment status.
func NewPaymentIntake(proposals *ProposalService, deduper Deduper, log *logger.Logger) *PaymentIntake {
	return &PaymentIntake{proposals: proposals, deduper: deduper, log: log}
}

// PaymentResult describes what happened to a confirmation.
type PaymentResult struct {
	Proposal  *repository.Proposal
	Duplicate bool
}

// Handle records the payment for evt. A confirmation whose event id was
// already seen returns Duplicate without touching the proposal.
func (i *PaymentIntake) Handle(ctx context.Context, evt events.PaymentCompleted, source string) (*PaymentResult, error) {
	proposalID := strings.TrimSpace(evt.ProposalID)
	if proposalID == "" {
		return nil, errors.InvalidInput("proposal_id", "proposal is required")
	}

	claimed := false
	if evt.EventID != "" && i.deduper != nil {
		fresh, err := i.deduper.Claim(ctx, evt.EventID)
		switch {
		case err != nil:
			// The payment status and the one-sale-per-proposal index still
			// keep the payment single-shot.
			i.log.Warn().Err(err).
				Str("proposal_id", proposalID).
				Str("event_id", evt.EventID).
				Msg("Payment event claim unavailable, recording without it")
		case !fresh:
			i.log.Info().
				Str("proposal_id", proposalID).
				Str("event_id", evt.EventID).
				Str("source", source).
				Msg("Duplicate payment confirmation ignored")
			return &PaymentResult{Duplicate: true}, nil
		default:
			claimed = true
		}
	}

	p, err := i.proposals.RecordPayment(ctx, proposalID, source)
	if err != nil {
		if claimed && !errors.Is(err, errors.ErrCodeInvalidTransition) {
			if relErr := i.deduper.Release(ctx, evt.EventID); relErr != nil {
				i.log.Warn().Err(relErr).Str("event_id", evt.EventID).Msg("Failed to release payment event claim")
			}
		}
		return nil, err
	}
	return &PaymentResult{Proposal: p}, nil
}
