package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/events"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/identity"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/repository"
)

// Notifier receives events after the transaction that produced them has
// committed. Delivery is best-effort: implementations never report failure
// back to the operation that triggered them.
type Notifier interface {
	ProposalSubmitted(ctx context.Context, evt events.ProposalSubmitted)
	ProposalDecided(ctx context.Context, evt events.ProposalDecided)
	ReadyForPayment(ctx context.Context, evt events.ReadyForPayment)
	WithdrawalDecided(ctx context.Context, evt events.WithdrawalDecided)
	WithdrawalApproved(ctx context.Context, evt events.WithdrawalApproved)
}

type nopNotifier struct{}

func (nopNotifier) ProposalSubmitted(context.Context, events.ProposalSubmitted)   {}
func (nopNotifier) ProposalDecided(context.Context, events.ProposalDecided)       {}
func (nopNotifier) ReadyForPayment(context.Context, events.ReadyForPayment)       {}
func (nopNotifier) WithdrawalDecided(context.Context, events.WithdrawalDecided)   {}
func (nopNotifier) WithdrawalApproved(context.Context, events.WithdrawalApproved) {}

// Option customizes a service.
type Option func(*options)

type options struct {
	now      func() time.Time
	notifier Notifier
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithNotifier sets where post-commit events go.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func buildOptions(opts []Option) options {
	o := options{
		now:      func() time.Time { return time.Now().UTC() },
		notifier: nopNotifier{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// inTransaction runs fn in a unit of work and retries once when the store
// reports a lost race. fn must not keep state across attempts.
func inTransaction(ctx context.Context, store repository.Store, fn func(tx repository.Tx) error) error {
	err := store.InTransaction(ctx, fn)
	if errors.Is(err, errors.ErrCodeStorageConflict) {
		err = store.InTransaction(ctx, fn)
	}
	return err
}

func requireActor(actor identity.Actor) error {
	if actor.ID == "" {
		return errors.New(errors.ErrCodeUnauthorized, "actor identity is required")
	}
	return nil
}

// authorizeParty allows the proposal's client, its producer, or an admin.
func authorizeParty(actor identity.Actor, p *repository.Proposal) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if actor.IsAdmin() || actor.ID == p.ClientID || actor.ID == p.ProducerID {
		return nil
	}
	return errors.Forbidden("actor is not a party to this proposal")
}

// authorizeProducer allows the producer themselves or an admin.
func authorizeProducer(actor identity.Actor, producerID string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if actor.IsAdmin() || actor.ID == producerID {
		return nil
	}
	return errors.Forbidden("actor may not act for this producer")
}

func requireAdmin(actor identity.Actor) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return errors.Forbidden("admin role required")
	}
	return nil
}

// Money columns are NUMERIC(14,2).
const moneyScale = 2

var maxMoney = decimal.New(1, 12)

// validateMoney rejects amounts the ledger cannot store exactly.
func validateMoney(field string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(moneyScale)) {
		return errors.InvalidInput(field, "amount may have at most 2 decimal places")
	}
	if amount.Abs().GreaterThanOrEqual(maxMoney) {
		return errors.InvalidInput(field, "amount is too large")
	}
	return nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
