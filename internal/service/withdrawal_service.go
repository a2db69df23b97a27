package service

import (
	"context"
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

// WithdrawalService handles producer payout requests.
type WithdrawalService struct {
	store    repository.Store
	ledger   *LedgerService
	minimum  decimal.Decimal
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time
}

// NewWithdrawalService creates a new withdrawal service. minimum is the
// smallest amount a producer may withdraw.
func NewWithdrawalService(store repository.Store, ledger *LedgerService, minimum decimal.Decimal, log *logger.Logger, opts ...Option) *WithdrawalService {
	o := buildOptions(opts)
	return &WithdrawalService{
		store:    store,
		ledger:   ledger,
		minimum:  minimum,
		notifier: o.notifier,
		log:      log,
		now:      o.now,
	}
}

// RequestWithdrawalRequest represents a producer's payout request.
type RequestWithdrawalRequest struct {
	ProducerID      string
	Amount          decimal.Decimal
	PaymentMethodID string
}

// RequestWithdrawal records a pending withdrawal and debits the available
// balance in one unit of work.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, actor identity.Actor, req *RequestWithdrawalRequest) (*repository.WithdrawalRequest, error) {
	producerID := strings.TrimSpace(req.ProducerID)
	if producerID == "" {
		producerID = actor.ID
	}
	if err := authorizeProducer(actor, producerID); err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.Role != identity.RoleProducer {
		return nil, errors.Forbidden("only producers request withdrawals")
	}
	if req.Amount.LessThan(s.minimum) {
		return nil, errors.InvalidInput("amount", "minimum withdrawal is "+s.minimum.StringFixed(2))
	}
	if !req.Amount.IsPositive() {
		return nil, errors.InvalidInput("amount", "amount must be greater than zero")
	}
	if err := validateMoney("amount", req.Amount); err != nil {
		return nil, err
	}
	paymentMethod := strings.TrimSpace(req.PaymentMethodID)
	if paymentMethod == "" {
		return nil, errors.InvalidInput("payment_method_id", "payment method is required")
	}

	var withdrawal *repository.WithdrawalRequest
	err := inTransaction(ctx, s.store, func(tx repository.Tx) error {
		id := uuid.NewString()
		txn, err := s.ledger.DebitTx(ctx, tx, producerID, req.Amount, repository.TransactionWithdrawal, &id, "Withdrawal "+id)
		if err != nil {
			return err
		}
		withdrawal = &repository.WithdrawalRequest{
			ID:              id,
			ProducerID:      producerID,
			Amount:          req.Amount,
			PaymentMethodID: paymentMethod,
			Status:          repository.WithdrawalPending,
			TransactionID:   txn.ID,
			CreatedAt:       txn.CreatedAt,
		}
		return tx.InsertWithdrawal(ctx, withdrawal)
	})
	metrics.LedgerOperation("debit", err)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("withdrawal_id", withdrawal.ID).
		Str("producer_id", producerID).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("Withdrawal requested")

	return withdrawal, nil
}

// Approve completes a pending withdrawal and hands it to the payout rails.
func (s *WithdrawalService) Approve(ctx context.Context, actor identity.Actor, withdrawalID, notes string) (*repository.WithdrawalRequest, error) {
	w, err := s.decide(ctx, actor, withdrawalID, repository.WithdrawalCompleted, notes)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("withdrawal_id", w.ID).
		Str("producer_id", w.ProducerID).
		Str("amount", w.Amount.StringFixed(2)).
		Str("approved_by", actor.ID).
		Msg("Withdrawal approved")

	s.notifier.WithdrawalApproved(ctx, events.WithdrawalApproved{
		EventID:         events.ID(events.TypeWithdrawalApproved, w.ID),
		WithdrawalID:    w.ID,
		ProducerID:      w.ProducerID,
		PaymentMethodID: w.PaymentMethodID,
		Amount:          w.Amount,
		OccurredAt:      *w.ProcessedAt,
	})
	s.notifyDecided(ctx, w, actor.ID)
	return w, nil
}

// Reject refuses a pending withdrawal and returns the funds to available.
func (s *WithdrawalService) Reject(ctx context.Context, actor identity.Actor, withdrawalID, reason string) (*repository.WithdrawalRequest, error) {
	w, err := s.decide(ctx, actor, withdrawalID, repository.WithdrawalRejected, reason)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("withdrawal_id", w.ID).
		Str("producer_id", w.ProducerID).
		Str("amount", w.Amount.StringFixed(2)).
		Str("rejected_by", actor.ID).
		Str("reason", reason).
		Msg("Withdrawal rejected")

	s.notifyDecided(ctx, w, actor.ID)
	return w, nil
}

func (s *WithdrawalService) decide(ctx context.Context, actor identity.Actor, withdrawalID string, status repository.WithdrawalStatus, notes string) (*repository.WithdrawalRequest, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var withdrawal *repository.WithdrawalRequest
	err := inTransaction(ctx, s.store, func(tx repository.Tx) error {
		w, err := tx.LockWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		if w.Status != repository.WithdrawalPending {
			return errors.InvalidTransition("withdrawal %s is %s, not pending", w.ID, w.Status)
		}

		outcome := repository.TransactionCompleted
		if status == repository.WithdrawalRejected {
			outcome = repository.TransactionRejected
		}
		if _, err := s.ledger.SettleDebitTx(ctx, tx, w.TransactionID, outcome); err != nil {
			return err
		}

		now := s.now()
		w.Status = status
		w.ProcessedBy = &actor.ID
		w.ProcessedAt = &now
		w.Notes = strPtr(strings.TrimSpace(notes))
		if err := tx.UpdateWithdrawal(ctx, w); err != nil {
			return err
		}
		withdrawal = w
		return nil
	})
	metrics.LedgerOperation("settle_debit", err)
	if err != nil {
		return nil, err
	}

	metrics.WithdrawalDecision(string(status))
	return withdrawal, nil
}

// GetWithdrawal returns a withdrawal visible to the actor.
func (s *WithdrawalService) GetWithdrawal(ctx context.Context, actor identity.Actor, withdrawalID string) (*repository.WithdrawalRequest, error) {
	w, err := s.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if err := authorizeProducer(actor, w.ProducerID); err != nil {
		return nil, err
	}
	return w, nil
}

// ListWithdrawals lists withdrawals. Producers only see their own.
func (s *WithdrawalService) ListWithdrawals(ctx context.Context, actor identity.Actor, filter repository.WithdrawalFilter) ([]*repository.WithdrawalRequest, int64, error) {
	if err := requireActor(actor); err != nil {
		return nil, 0, err
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, 0, errors.InvalidInput("limit", "limit and offset must not be negative")
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, errors.InvalidInput("status", "status must be one of pending, completed, rejected")
	}
	if !actor.IsAdmin() {
		if actor.Role != identity.RoleProducer {
			return nil, 0, errors.Forbidden("only producers have withdrawals")
		}
		filter.ProducerID = &actor.ID
	}
	return s.store.ListWithdrawals(ctx, filter)
}

func (s *WithdrawalService) notifyDecided(ctx context.Context, w *repository.WithdrawalRequest, actorID string) {
	notes := ""
	if w.Notes != nil {
		notes = *w.Notes
	}
	s.notifier.WithdrawalDecided(ctx, events.WithdrawalDecided{
		EventID:      events.ID(events.TypeWithdrawalDecided, w.ID, string(w.Status)),
		WithdrawalID: w.ID,
		ProducerID:   w.ProducerID,
		Status:       string(w.Status),
		Amount:       w.Amount,
		ActorID:      actorID,
		Notes:        notes,
		OccurredAt:   *w.ProcessedAt,
	})
}
