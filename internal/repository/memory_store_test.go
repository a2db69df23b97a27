package repository

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
)

func newProposal(id string, at time.Time) *Proposal {
	return &Proposal{
		ID:             id,
		TrackID:        "track-1",
		ClientID:       "client-1",
		ProducerID:     "producer-1",
		SyncFee:        decimal.RequireFromString("100.00"),
		PaymentTerms:   PaymentTermsNet30,
		ExpirationDate: at.Add(time.Hour),
		State:          InitialProposalState(),
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()
	boom := stderrors.New("boom")

	err := store.InTransaction(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertProposal(ctx, newProposal("p-1", now)))
		b, err := tx.LockBalance(ctx, "producer-1")
		require.NoError(t, err)
		b.PendingBalance = decimal.RequireFromString("100.00")
		require.NoError(t, tx.UpdateBalance(ctx, b))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetProposal(ctx, "p-1")
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))

	err = store.InTransaction(ctx, func(tx Tx) error {
		b, err := tx.LockBalance(ctx, "producer-1")
		require.NoError(t, err)
		assert.True(t, b.PendingBalance.IsZero())
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, store.InTransaction(ctx, func(tx Tx) error {
		return tx.InsertProposal(ctx, newProposal("p-1", now))
	}))

	p, err := store.GetProposal(ctx, "p-1")
	require.NoError(t, err)
	p.SyncFee = decimal.RequireFromString("1.00")

	again, err := store.GetProposal(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "100.00", again.SyncFee.StringFixed(2))
}

func TestMemoryStoreRejectsNegativeBalance(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.InTransaction(ctx, func(tx Tx) error {
		b, err := tx.LockBalance(ctx, "producer-1")
		if err != nil {
			return err
		}
		b.AvailableBalance = decimal.RequireFromString("-0.01")
		return tx.UpdateBalance(ctx, b)
	})
	assert.Error(t, err)
}

func TestMemoryStoreSaleRecordedOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()
	ref := "p-1"

	sale := func(id string) *Transaction {
		return &Transaction{
			ID: id, ProducerID: "producer-1", Amount: decimal.RequireFromString("10.00"),
			Type: TransactionSale, Status: TransactionCompleted, ReferenceID: &ref,
			AvailableAt: &now, CreatedAt: now, UpdatedAt: now,
		}
	}

	require.NoError(t, store.InTransaction(ctx, func(tx Tx) error { return tx.InsertTransaction(ctx, sale("t-1")) }))
	err := store.InTransaction(ctx, func(tx Tx) error { return tx.InsertTransaction(ctx, sale("t-2")) })
	assert.Equal(t, errors.ErrCodeInvalidTransition, errors.CodeOf(err))

	ids, err := store.ListMaturingTransactions(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1"}, ids)
}

func TestMemoryStoreListExpirable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.InTransaction(ctx, func(tx Tx) error {
		late := newProposal("late", base)
		early := newProposal("early", base.Add(-time.Hour))
		decided := newProposal("decided", base.Add(-2*time.Hour))
		decided.State, _, _ = decided.State.ApplyProducerDecision(DecisionAccept)
		for _, p := range []*Proposal{late, early, decided} {
			if err := tx.InsertProposal(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}))

	ids, err := store.ListExpirableProposals(ctx, base.Add(2*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "late"}, ids)

	ids, err = store.ListExpirableProposals(ctx, base.Add(2*time.Hour), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"early"}, ids)
}
