package service

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/identity"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/logger"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/metrics"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/repository"
)

// LedgerService owns producer balances and the transaction log.
//
// A sale credit lands in pending_balance and moves to available_balance
// once its hold period has elapsed and MatureFunds has run. Withdrawals
// debit available_balance when requested and give it back if rejected.
type LedgerService struct {
	store      repository.Store
	holdPeriod time.Duration
	log        *logger.Logger
	now        func() time.Time
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(store repository.Store, holdPeriod time.Duration, log *logger.Logger, opts ...Option) *LedgerService {
	o := buildOptions(opts)
	return &LedgerService{
		store:      store,
		holdPeriod: holdPeriod,
		log:        log,
		now:        o.now,
	}
}

// CreditRequest represents a ledger credit.
type CreditRequest struct {
	ProducerID  string
	Amount      decimal.Decimal
	Type        repository.TransactionType
	ReferenceID *string
	Description string
}

// SettleOutcome is the final state of a pending debit.
type SettleOutcome = repository.TransactionStatus

// Credit records a completed credit in its own transaction.
func (s *LedgerService) Credit(ctx context.Context, req *CreditRequest) (*repository.Transaction, error) {
	var txn *repository.Transaction
	err := inTransaction(ctx, s.store, func(tx repository.Tx) error {
		var err error
		txn, err = s.CreditTx(ctx, tx, req)
		return err
	})
	metrics.LedgerOperation("credit", err)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// CreditTx records a completed sale credit inside tx. The amount is added to
// the pending balance and lifetime earnings, and matures after the hold period.
func (s *LedgerService) CreditTx(ctx context.Context, tx repository.Tx, req *CreditRequest) (*repository.Transaction, error) {
	if req.ProducerID == "" {
		return nil, errors.InvalidInput("producer_id", "producer is required")
	}
	if !req.Amount.IsPositive() {
		return nil, errors.InvalidInput("amount", "credit amount must be positive")
	}
	if err := validateMoney("amount", req.Amount); err != nil {
		return nil, err
	}
	if req.Type != repository.TransactionSale {
		return nil, errors.InvalidInput("type", "only sale credits are accepted, use Adjust for corrections")
	}

	now := s.now()
	txn := &repository.Transaction{
		ID:          uuid.NewString(),
		ProducerID:  req.ProducerID,
		Amount:      req.Amount,
		Type:        req.Type,
		Status:      repository.TransactionCompleted,
		Description: req.Description,
		ReferenceID: req.ReferenceID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	availableAt := now.Add(s.holdPeriod)
	txn.AvailableAt = &availableAt
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}

	balance, err := tx.LockBalance(ctx, req.ProducerID)
	if err != nil {
		return nil, err
	}
	balance.PendingBalance = balance.PendingBalance.Add(req.Amount)
	balance.LifetimeEarnings = balance.LifetimeEarnings.Add(req.Amount)
	balance.UpdatedAt = now
	if err := tx.UpdateBalance(ctx, balance); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("producer_id", req.ProducerID).
		Str("transaction_id", txn.ID).
		Str("amount", req.Amount.StringFixed(2)).
		Str("type", string(req.Type)).
		Msg("Ledger credited")

	return txn, nil
}

// DebitTx records a pending debit inside tx and takes the amount out of the
// available balance.
func (s *LedgerService) DebitTx(ctx context.Context, tx repository.Tx, producerID string, amount decimal.Decimal, typ repository.TransactionType, referenceID *string, description string) (*repository.Transaction, error) {
	if !amount.IsPositive() {
		return nil, errors.InvalidInput("amount", "debit amount must be positive")
	}
	if err := validateMoney("amount", amount); err != nil {
		return nil, err
	}

	balance, err := tx.LockBalance(ctx, producerID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(balance.AvailableBalance) {
		return nil, errors.InsufficientFunds("requested %s but only %s is available",
			amount.StringFixed(2), balance.AvailableBalance.StringFixed(2))
	}

	now := s.now()
	txn := &repository.Transaction{
		ID:          uuid.NewString(),
		ProducerID:  producerID,
		Amount:      amount.Neg(),
		Type:        typ,
		Status:      repository.TransactionPending,
		Description: description,
		ReferenceID: referenceID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}

	balance.AvailableBalance = balance.AvailableBalance.Sub(amount)
	balance.UpdatedAt = now
	if err := tx.UpdateBalance(ctx, balance); err != nil {
		return nil, err
	}
	return txn, nil
}

// SettleDebit finalizes a pending debit in its own transaction.
func (s *LedgerService) SettleDebit(ctx context.Context, transactionID string, outcome SettleOutcome) (*repository.Transaction, error) {
	var txn *repository.Transaction
	err := inTransaction(ctx, s.store, func(tx repository.Tx) error {
		var err error
		txn, err = s.SettleDebitTx(ctx, tx, transactionID, outcome)
		return err
	})
	metrics.LedgerOperation("settle_debit", err)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// SettleDebitTx moves a pending debit to completed or rejected inside tx.
// A rejected debit returns its amount to the available balance.
func (s *LedgerService) SettleDebitTx(ctx context.Context, tx repository.Tx, transactionID string, outcome SettleOutcome) (*repository.Transaction, error) {
	if outcome != repository.TransactionCompleted && outcome != repository.TransactionRejected {
		return nil, errors.InvalidInput("outcome", "outcome must be completed or rejected")
	}

	txn, err := tx.LockTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != repository.TransactionPending || !txn.IsDebit() {
		return nil, errors.InvalidTransition("transaction %s is a %s %s, not a pending debit",
			transactionID, txn.Status, txn.Type)
	}

	balance, err := tx.LockBalance(ctx, txn.ProducerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if outcome == repository.TransactionRejected {
		balance.AvailableBalance = balance.AvailableBalance.Add(txn.Amount.Abs())
		balance.UpdatedAt = now
		if err := tx.UpdateBalance(ctx, balance); err != nil {
			return nil, err
		}
	}
	if err := tx.UpdateTransactionStatus(ctx, txn.ID, outcome, now); err != nil {
		return nil, err
	}

	txn.Status = outcome
	txn.UpdatedAt = now
	return txn, nil
}

// MatureFunds moves every sale credit whose hold period ended at or before
// now from pending to available. Each credit is matured at most once, in its
// own transaction. It returns the number of credits matured.
func (s *LedgerService) MatureFunds(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.store.ListMaturingTransactions(ctx, now, 0)
	if err != nil {
		return 0, err
	}

	matured := 0
	var errs []error
	for _, id := range ids {
		done := false
		err := inTransaction(ctx, s.store, func(tx repository.Tx) error {
			done = false
			txn, err := tx.LockTransaction(ctx, id)
			if err != nil {
				return err
			}
			if txn.MaturedAt != nil || txn.Status != repository.TransactionCompleted ||
				txn.AvailableAt == nil || txn.AvailableAt.After(now) {
				return nil
			}

			balance, err := tx.LockBalance(ctx, txn.ProducerID)
			if err != nil {
				return err
			}
			balance.PendingBalance = balance.PendingBalance.Sub(txn.Amount)
			balance.AvailableBalance = balance.AvailableBalance.Add(txn.Amount)
			balance.UpdatedAt = now
			if err := tx.UpdateBalance(ctx, balance); err != nil {
				return err
			}
			if err := tx.MarkTransactionMatured(ctx, id, now); err != nil {
				return err
			}
			done = true
			return nil
		})
		metrics.LedgerOperation("mature", err)
		if err != nil {
			s.log.Error().Err(err).Str("transaction_id", id).Msg("Failed to mature sale credit")
			errs = append(errs, err)
			continue
		}
		if done {
			matured++
		}
	}

	if matured > 0 {
		s.log.Info().Int("count", matured).Msg("Sale credits matured")
	}
	return matured, stderrors.Join(errs...)
}

// AdjustRequest represents an admin balance correction.
type AdjustRequest struct {
	ProducerID  string
	Amount      decimal.Decimal
	Description string
}

// Adjust applies a signed, completed adjustment to the available balance.
// A negative adjustment may not overdraw the balance.
func (s *LedgerService) Adjust(ctx context.Context, actor identity.Actor, req *AdjustRequest) (*repository.Transaction, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if req.ProducerID == "" {
		return nil, errors.InvalidInput("producer_id", "producer is required")
	}
	if req.Amount.IsZero() {
		return nil, errors.InvalidInput("amount", "adjustment amount must be non-zero")
	}
	if err := validateMoney("amount", req.Amount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, errors.InvalidInput("description", "adjustments require a description")
	}

	var txn *repository.Transaction
	err := inTransaction(ctx, s.store, func(tx repository.Tx) error {
		balance, err := tx.LockBalance(ctx, req.ProducerID)
		if err != nil {
			return err
		}
		next := balance.AvailableBalance.Add(req.Amount)
		if next.IsNegative() {
			return errors.InsufficientFunds("adjustment of %s exceeds available %s",
				req.Amount.StringFixed(2), balance.AvailableBalance.StringFixed(2))
		}

		now := s.now()
		txn = &repository.Transaction{
			ID:          uuid.NewString(),
			ProducerID:  req.ProducerID,
			Amount:      req.Amount,
			Type:        repository.TransactionAdjustment,
			Status:      repository.TransactionCompleted,
			Description: req.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		balance.AvailableBalance = next
		balance.UpdatedAt = now
		return tx.UpdateBalance(ctx, balance)
	})
	metrics.LedgerOperation("adjust", err)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("producer_id", req.ProducerID).
		Str("transaction_id", txn.ID).
		Str("amount", req.Amount.StringFixed(2)).
		Str("adjusted_by", actor.ID).
		Msg("Balance adjusted")

	return txn, nil
}

// GetBalance returns the producer's balance, creating a zero balance on
// first access.
func (s *LedgerService) GetBalance(ctx context.Context, actor identity.Actor, producerID string) (*repository.ProducerBalance, error) {
	if err := authorizeProducer(actor, producerID); err != nil {
		return nil, err
	}
	if producerID == "" {
		return nil, errors.InvalidInput("producer_id", "producer is required")
	}

	var balance *repository.ProducerBalance
	err := inTransaction(ctx, s.store, func(tx repository.Tx) error {
		var err error
		balance, err = tx.LockBalance(ctx, producerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// ListTransactions lists a producer's transactions, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, actor identity.Actor, producerID string, limit, offset int) ([]*repository.Transaction, int64, error) {
	if err := authorizeProducer(actor, producerID); err != nil {
		return nil, 0, err
	}
	if limit < 0 || offset < 0 {
		return nil, 0, errors.InvalidInput("limit", "limit and offset must not be negative")
	}
	return s.store.ListTransactions(ctx, producerID, limit, offset)
}

// Reconciliation compares the stored balance with one rebuilt from the log.
type Reconciliation struct {
	Balance           *repository.ProducerBalance
	ReplayedAvailable decimal.Decimal
	ReplayedPending   decimal.Decimal
}

// Consistent reports whether the stored balance matches the replay.
func (r *Reconciliation) Consistent() bool {
	return r.Balance.AvailableBalance.Equal(r.ReplayedAvailable) &&
		r.Balance.PendingBalance.Equal(r.ReplayedPending)
}

// Reconcile replays a producer's full transaction log against the stored balance.
func (s *LedgerService) Reconcile(ctx context.Context, actor identity.Actor, producerID string) (*Reconciliation, error) {
	balance, err := s.GetBalance(ctx, actor, producerID)
	if err != nil {
		return nil, err
	}
	txns, _, err := s.store.ListTransactions(ctx, producerID, 0, 0)
	if err != nil {
		return nil, err
	}
	available, pending := ReplayBalance(txns)
	return &Reconciliation{Balance: balance, ReplayedAvailable: available, ReplayedPending: pending}, nil
}

// ReplayBalance recomputes (available, pending) from a transaction log:
//
//	available = matured sale credits + completed adjustments - open or completed debits
//	pending   = unmatured sale credits
func ReplayBalance(txns []*repository.Transaction) (available, pending decimal.Decimal) {
	available, pending = decimal.Zero, decimal.Zero
	for _, t := range txns {
		switch {
		case t.IsDebit() && t.Type != repository.TransactionAdjustment:
			if t.Status != repository.TransactionRejected {
				available = available.Sub(t.Amount.Abs())
			}
		case t.Status != repository.TransactionCompleted:
		case t.Type == repository.TransactionSale && t.MaturedAt == nil:
			pending = pending.Add(t.Amount)
		default:
			available = available.Add(t.Amount)
		}
	}
	return available, pending
}
