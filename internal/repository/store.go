package repository

import (
	"context"
	"time"
)

// Store is the persistence boundary of the service. Every state change runs
// inside InTransaction; the Tx handed to fn sees a consistent snapshot and
// its row locks are held until fn returns. A non-nil error from fn rolls
// back every write made through the Tx.
type Store interface {
	Reader
	InTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// Reader holds the lock-free read paths.
type Reader interface {
	ProducerForTrack(ctx context.Context, trackID string) (string, error)

	GetProposal(ctx context.Context, id string) (*Proposal, error)
	ListProposals(ctx context.Context, filter ProposalFilter) ([]*Proposal, int64, error)
	ListExpirableProposals(ctx context.Context, now time.Time, limit int) ([]string, error)

	ListHistory(ctx context.Context, proposalID string) ([]*HistoryEntry, error)
	ListMessages(ctx context.Context, proposalID string) ([]*NegotiationMessage, error)

	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	// ListTransactions returns newest first. A limit of 0 returns everything.
	ListTransactions(ctx context.Context, producerID string, limit, offset int) ([]*Transaction, int64, error)
	ListMaturingTransactions(ctx context.Context, now time.Time, limit int) ([]string, error)

	GetWithdrawal(ctx context.Context, id string) (*WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, filter WithdrawalFilter) ([]*WithdrawalRequest, int64, error)
}

// Tx is the set of row operations available inside one unit of work.
// Lock* methods take an exclusive row lock for the rest of the transaction.
// To stay deadlock free, callers lock in the order
// proposal → withdrawal → transaction → balance.
type Tx interface {
	InsertProposal(ctx context.Context, p *Proposal) error
	LockProposal(ctx context.Context, id string) (*Proposal, error)
	UpdateProposalState(ctx context.Context, id string, state ProposalState, at time.Time) error

	AppendHistory(ctx context.Context, entry *HistoryEntry) error
	InsertMessage(ctx context.Context, msg *NegotiationMessage) error

	// LockBalance creates the balance row on first access.
	LockBalance(ctx context.Context, producerID string) (*ProducerBalance, error)
	UpdateBalance(ctx context.Context, b *ProducerBalance) error

	InsertTransaction(ctx context.Context, t *Transaction) error
	LockTransaction(ctx context.Context, id string) (*Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, status TransactionStatus, at time.Time) error
	MarkTransactionMatured(ctx context.Context, id string, at time.Time) error

	InsertWithdrawal(ctx context.Context, w *WithdrawalRequest) error
	LockWithdrawal(ctx context.Context, id string) (*WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, w *WithdrawalRequest) error
}
