package service

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/events"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/identity"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/logger"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/metrics"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/repository"
)

// SystemActorID is recorded as changed_by for transitions made by sweeps.
const SystemActorID = "system"

// ProposalService drives a proposal through the producer, client and
// payment phases.
type ProposalService struct {
	store    repository.Store
	ledger   *LedgerService
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time
}

// NewProposalService creates a new proposal service.
func NewProposalService(store repository.Store, ledger *LedgerService, log *logger.Logger, opts ...Option) *ProposalService {
	o := buildOptions(opts)
	return &ProposalService{
		store:    store,
		ledger:   ledger,
		notifier: o.notifier,
		log:      log,
		now:      o.now,
	}
}

// SubmitProposalRequest represents a client's proposal draft.
type SubmitProposalRequest struct {
	TrackID          string
	ClientID         string
	SyncFee          decimal.Decimal
	PaymentTerms     repository.PaymentTerms
	ExpirationDate   time.Time
	IsUrgent         bool
	ProjectTitle     *string
	ProjectType      *string
	UsageDescription *string
	Duration         *string
	Territory        *string
}

// PendingPayment is what the payment collaborator needs to collect a fee.
type PendingPayment struct {
	ProposalID   string                  `json:"proposal_id"`
	ClientID     string                  `json:"client_id"`
	ProducerID   string                  `json:"producer_id"`
	Amount       decimal.Decimal         `json:"amount"`
	PaymentTerms repository.PaymentTerms `json:"payment_terms"`
}

// Submit creates a proposal in the producer_pending phase. The producer is
// resolved from the track catalog.
func (s *ProposalService) Submit(ctx context.Context, actor identity.Actor, req *SubmitProposalRequest) (*repository.Proposal, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		clientID = actor.ID
	}
	if !actor.IsAdmin() {
		if actor.Role != identity.RoleClient {
			return nil, errors.Forbidden("only clients submit proposals")
		}
		if clientID != actor.ID {
			return nil, errors.Forbidden("clients submit proposals on their own behalf")
		}
	}

	now := s.now()
	trackID := strings.TrimSpace(req.TrackID)
	if trackID == "" {
		return nil, errors.InvalidInput("track_id", "track is required")
	}
	if !req.SyncFee.IsPositive() {
		return nil, errors.InvalidInput("sync_fee", "sync fee must be greater than zero")
	}
	if err := validateMoney("sync_fee", req.SyncFee); err != nil {
		return nil, err
	}
	if !req.PaymentTerms.Valid() {
		return nil, errors.InvalidInput("payment_terms", "payment terms must be one of immediate, net30, net60, net90")
	}
	if !req.ExpirationDate.After(now) {
		return nil, errors.InvalidInput("expiration_date", "expiration date must be in the future")
	}

	producerID, err := s.store.ProducerForTrack(ctx, trackID)
	if err != nil {
		return nil, err
	}
	if producerID == clientID {
		return nil, errors.InvalidInput("track_id", "producers cannot license their own tracks")
	}

	proposal := &repository.Proposal{
		ID:               uuid.NewString(),
		TrackID:          trackID,
		ClientID:         clientID,
		ProducerID:       producerID,
		SyncFee:          req.SyncFee,
		PaymentTerms:     req.PaymentTerms,
		ExpirationDate:   req.ExpirationDate.UTC(),
		IsUrgent:         req.IsUrgent,
		ProjectTitle:     req.ProjectTitle,
		ProjectType:      req.ProjectType,
		UsageDescription: req.UsageDescription,
		Duration:         req.Duration,
		Territory:        req.Territory,
		State:            repository.InitialProposalState(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = inTransaction(ctx, s.store, func(tx repository.Tx) error {
		return tx.InsertProposal(ctx, proposal)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("proposal_id", proposal.ID).
		Str("track_id", trackID).
		Str("client_id", clientID).
		Str("producer_id", producerID).
		Str("sync_fee", req.SyncFee.StringFixed(2)).
		Msg("Proposal submitted")

	s.notifier.ProposalSubmitted(ctx, events.ProposalSubmitted{
		EventID:        events.ID(events.TypeProposalSubmitted, proposal.ID),
		ProposalID:     proposal.ID,
		TrackID:        trackID,
		ClientID:       clientID,
		ProducerID:     producerID,
		SyncFee:        proposal.SyncFee,
		ExpirationDate: proposal.ExpirationDate,
		IsUrgent:       proposal.IsUrgent,
		OccurredAt:     now,
	})

	return proposal, nil
}

// transition is one locked read-check-write of a proposal's status.
type transition struct {
	authorize func(p *repository.Proposal) error
	apply     func(p *repository.Proposal, now time.Time) (repository.ProposalState, repository.StatusChange, error)
	// after runs inside the same unit of work once the new state is written.
	after func(tx repository.Tx, p *repository.Proposal) error
}

// transition locks the proposal row, applies t and appends the history entry,
// all in one unit of work.
func (s *ProposalService) transition(ctx context.Context, proposalID, changedBy string, t transition) (*repository.Proposal, repository.StatusChange, error) {
	var (
		proposal *repository.Proposal
		change   repository.StatusChange
	)
	err := inTransaction(ctx, s.store, func(tx repository.Tx) error {
		p, err := tx.LockProposal(ctx, proposalID)
		if err != nil {
			return err
		}
		if t.authorize != nil {
			if err := t.authorize(p); err != nil {
				return err
			}
		}

		now := s.now()
		next, ch, err := t.apply(p, now)
		if err != nil {
			if errors.CodeOf(err) != errors.ErrCodeInternal {
				return err
			}
			return errors.InvalidTransition("proposal %s: %v", proposalID, err)
		}
		if err := tx.UpdateProposalState(ctx, p.ID, next, now); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, &repository.HistoryEntry{
			ID:             uuid.NewString(),
			ProposalID:     p.ID,
			Axis:           ch.Axis,
			PreviousStatus: ch.From,
			NewStatus:      ch.To,
			ChangedBy:      changedBy,
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		p.State = next
		p.UpdatedAt = now
		if t.after != nil {
			if err := t.after(tx, p); err != nil {
				return err
			}
		}
		proposal, change = p, ch
		return nil
	})
	if err != nil {
		return nil, repository.StatusChange{}, err
	}

	metrics.ProposalTransition(string(change.Axis), change.To)
	return proposal, change, nil
}

// ProducerDecide records the producer's accept or reject.
func (s *ProposalService) ProducerDecide(ctx context.Context, actor identity.Actor, proposalID string, decision repository.Decision) (*repository.Proposal, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !decision.Valid() {
		return nil, errors.InvalidInput("decision", "decision must be accept or reject")
	}

	p, change, err := s.transition(ctx, proposalID, actor.ID, transition{
		authorize: func(p *repository.Proposal) error {
			if actor.IsAdmin() || actor.ID == p.ProducerID {
				return nil
			}
			return errors.Forbidden("only the proposal's producer may decide")
		},
		apply: func(p *repository.Proposal, now time.Time) (repository.ProposalState, repository.StatusChange, error) {
			if p.IsExpired(now) {
				return p.State, repository.StatusChange{}, errors.InvalidTransition("proposal %s has expired", p.ID)
			}
			return p.State.ApplyProducerDecision(decision)
		},
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("proposal_id", p.ID).
		Str("producer_id", p.ProducerID).
		Str("decided_by", actor.ID).
		Str("producer_status", change.To).
		Msg("Proposal decided by producer")

	s.notifyDecided(ctx, p, change, actor.ID, p.ClientID)
	return p, nil
}

// ClientDecide records the client's accept or reject after the producer
// accepted. On accept the payment collaborator is told to collect the fee.
func (s *ProposalService) ClientDecide(ctx context.Context, actor identity.Actor, proposalID string, decision repository.Decision) (*repository.Proposal, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !decision.Valid() {
		return nil, errors.InvalidInput("decision", "decision must be accept or reject")
	}

	p, change, err := s.transition(ctx, proposalID, actor.ID, transition{
		authorize: func(p *repository.Proposal) error {
			if actor.IsAdmin() || actor.ID == p.ClientID {
				return nil
			}
			return errors.Forbidden("only the proposal's client may decide")
		},
		apply: func(p *repository.Proposal, _ time.Time) (repository.ProposalState, repository.StatusChange, error) {
			return p.State.ApplyClientDecision(decision)
		},
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("proposal_id", p.ID).
		Str("client_id", p.ClientID).
		Str("decided_by", actor.ID).
		Str("client_status", change.To).
		Msg("Proposal decided by client")

	s.notifyDecided(ctx, p, change, actor.ID, p.ProducerID)
	if p.State.Client() == repository.ClientAccepted {
		s.notifier.ReadyForPayment(ctx, events.ReadyForPayment{
			EventID:      events.ID(events.TypeReadyForPayment, p.ID),
			ProposalID:   p.ID,
			ClientID:     p.ClientID,
			ProducerID:   p.ProducerID,
			Amount:       p.SyncFee,
			PaymentTerms: string(p.PaymentTerms),
			OccurredAt:   p.UpdatedAt,
		})
	}
	return p, nil
}

// RecordPayment marks the proposal paid and credits the producer's pending
// balance with the sync fee, in one unit of work.
func (s *ProposalService) RecordPayment(ctx context.Context, proposalID, recordedBy string) (*repository.Proposal, error) {
	if strings.TrimSpace(proposalID) == "" {
		return nil, errors.InvalidInput("proposal_id", "proposal is required")
	}
	if recordedBy == "" {
		recordedBy = SystemActorID
	}

	p, change, err := s.transition(ctx, proposalID, recordedBy, transition{
		apply: func(p *repository.Proposal, _ time.Time) (repository.ProposalState, repository.StatusChange, error) {
			return p.State.ApplyPayment()
		},
		after: func(tx repository.Tx, p *repository.Proposal) error {
			ref := p.ID
			_, err := s.ledger.CreditTx(ctx, tx, &CreditRequest{
				ProducerID:  p.ProducerID,
				Amount:      p.SyncFee,
				Type:        repository.TransactionSale,
				ReferenceID: &ref,
				Description: "Sync license " + p.ID,
			})
			metrics.LedgerOperation("credit", err)
			return err
		},
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("proposal_id", p.ID).
		Str("producer_id", p.ProducerID).
		Str("amount", p.SyncFee.StringFixed(2)).
		Msg("Proposal payment recorded")

	s.notifyDecided(ctx, p, change, recordedBy, p.ProducerID)
	return p, nil
}

// GetPendingPayment returns the fee owed on a proposal awaiting payment.
func (s *ProposalService) GetPendingPayment(ctx context.Context, proposalID string) (*PendingPayment, error) {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if phase := p.State.Phase(); phase != repository.PhasePaymentPending {
		return nil, errors.InvalidTransition("proposal %s is %s, not awaiting payment", p.ID, phase)
	}
	return &PendingPayment{
		ProposalID:   p.ID,
		ClientID:     p.ClientID,
		ProducerID:   p.ProducerID,
		Amount:       p.SyncFee,
		PaymentTerms: p.PaymentTerms,
	}, nil
}

// Expire moves every proposal still awaiting the producer past its
// expiration date to expired. Proposals already expired or decided are left
// alone, so running it again is a no-op. It returns the number expired.
func (s *ProposalService) Expire(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.store.ListExpirableProposals(ctx, now, 0)
	if err != nil {
		return 0, err
	}

	expired := 0
	var errs []error
	for _, id := range ids {
		p, change, err := s.transition(ctx, id, SystemActorID, transition{
			apply: func(p *repository.Proposal, _ time.Time) (repository.ProposalState, repository.StatusChange, error) {
				if !p.ExpirationDate.Before(now) {
					return p.State, repository.StatusChange{}, errors.InvalidTransition("proposal %s has not expired", p.ID)
				}
				return p.State.ApplyExpiry()
			},
		})
		if errors.Is(err, errors.ErrCodeInvalidTransition) {
			// Decided between the scan and the lock.
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("proposal_id", id).Msg("Failed to expire proposal")
			errs = append(errs, err)
			continue
		}
		expired++
		s.notifyDecided(ctx, p, change, SystemActorID, p.ClientID)
	}

	if expired > 0 {
		s.log.Info().Int("count", expired).Msg("Proposals expired")
	}
	return expired, stderrors.Join(errs...)
}

// GetProposal returns a proposal visible to the actor.
func (s *ProposalService) GetProposal(ctx context.Context, actor identity.Actor, proposalID string) (*repository.Proposal, error) {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := authorizeParty(actor, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListProposals lists proposals. Clients and producers only see their own.
func (s *ProposalService) ListProposals(ctx context.Context, actor identity.Actor, filter repository.ProposalFilter) ([]*repository.Proposal, int64, error) {
	if err := requireActor(actor); err != nil {
		return nil, 0, err
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, 0, errors.InvalidInput("limit", "limit and offset must not be negative")
	}
	switch actor.Role {
	case identity.RoleClient:
		filter.ClientID = &actor.ID
	case identity.RoleProducer:
		filter.ProducerID = &actor.ID
	}
	return s.store.ListProposals(ctx, filter)
}

// GetHistory returns the proposal's status changes in the order they happened.
func (s *ProposalService) GetHistory(ctx context.Context, actor identity.Actor, proposalID string) ([]*repository.HistoryEntry, error) {
	if _, err := s.GetProposal(ctx, actor, proposalID); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, proposalID)
}

func (s *ProposalService) notifyDecided(ctx context.Context, p *repository.Proposal, change repository.StatusChange, actorID, recipient string) {
	s.notifier.ProposalDecided(ctx, events.ProposalDecided{
		EventID:        events.ID(events.TypeProposalDecided, p.ID, string(change.Axis), change.To),
		ProposalID:     p.ID,
		Axis:           string(change.Axis),
		PreviousStatus: change.From,
		NewStatus:      change.To,
		ActorID:        actorID,
		Recipients:     []string{recipient},
		OccurredAt:     p.UpdatedAt,
	})
}
