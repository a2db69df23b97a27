package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/repository"
)

func TestMatureFundsMovesEachCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.settle(t, "500.00")
	f.clock.Advance(24 * time.Hour)
	f.settle(t, "100.00")

	n, err := f.ledger.MatureFunds(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(holdPeriod - 24*time.Hour)
	n, err = f.ledger.MatureFunds(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	balance, err := f.ledger.GetBalance(ctx, producerActor, producerActor.ID)
	require.NoError(t, err)
	assertAmount(t, "500.00", balance.AvailableBalance)
	assertAmount(t, "100.00", balance.PendingBalance)
	f.assertReplayConsistent(t, producerActor.ID)

	n, err = f.ledger.MatureFunds(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(24 * time.Hour)
	n, err = f.ledger.MatureFunds(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	balance, err = f.ledger.GetBalance(ctx, producerActor, producerActor.ID)
	require.NoError(t, err)
	assertAmount(t, "600.00", balance.AvailableBalance)
	assertAmount(t, "0.00", balance.PendingBalance)
	assertAmount(t, "600.00", balance.LifetimeEarnings)
	f.assertReplayConsistent(t, producerActor.ID)
}

func TestSettleDebitOnlyAcceptsPendingDebits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100.00")

	txns, _, err := f.ledger.ListTransactions(ctx, producerActor, producerActor.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)

	_, err = f.ledger.SettleDebit(ctx, txns[0].ID, repository.TransactionRejected)
	assert.Equal(t, errors.ErrCodeInvalidTransition, errors.CodeOf(err))

	w, err := f.withdrawals.RequestWithdrawal(ctx, producerActor, &RequestWithdrawalRequest{Amount: dec("60.00"), PaymentMethodID: "pm-1"})
	require.NoError(t, err)

	_, err = f.ledger.SettleDebit(ctx, w.TransactionID, repository.TransactionPending)
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))

	settled, err := f.ledger.SettleDebit(ctx, w.TransactionID, repository.TransactionRejected)
	require.NoError(t, err)
	assert.Equal(t, repository.TransactionRejected, settled.Status)

	_, err = f.ledger.SettleDebit(ctx, w.TransactionID, repository.TransactionCompleted)
	assert.Equal(t, errors.ErrCodeInvalidTransition, errors.CodeOf(err))

	balance, err := f.ledger.GetBalance(ctx, producerActor, producerActor.ID)
	require.NoError(t, err)
	assertAmount(t, "100.00", balance.AvailableBalance)
}

func TestCreditRejectsNonSales(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Credit(context.Background(), &CreditRequest{
		ProducerID: producerActor.ID,
		Amount:     dec("10.00"),
		Type:       repository.TransactionAdjustment,
	})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))

	_, err = f.ledger.Credit(context.Background(), &CreditRequest{
		ProducerID: producerActor.ID,
		Amount:     dec("0"),
		Type:       repository.TransactionSale,
	})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
}

func TestAdjust(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Adjust(ctx, producerActor, &AdjustRequest{ProducerID: producerActor.ID, Amount: dec("10.00"), Description: "bonus"})
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))

	_, err = f.ledger.Adjust(ctx, adminActor, &AdjustRequest{ProducerID: producerActor.ID, Amount: dec("25.50"), Description: "chargeback reversal"})
	require.NoError(t, err)

	_, err = f.ledger.Adjust(ctx, adminActor, &AdjustRequest{ProducerID: producerActor.ID, Amount: dec("-30.00"), Description: "correction"})
	assert.Equal(t, errors.ErrCodeInsufficientFunds, errors.CodeOf(err))

	_, err = f.ledger.Adjust(ctx, adminActor, &AdjustRequest{ProducerID: producerActor.ID, Amount: dec("-5.50"), Description: "correction"})
	require.NoError(t, err)

	_, err = f.ledger.Adjust(ctx, adminActor, &AdjustRequest{ProducerID: producerActor.ID, Amount: dec("1.00")})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))

	balance, err := f.ledger.GetBalance(ctx, producerActor, producerActor.ID)
	require.NoError(t, err)
	assertAmount(t, "20.00", balance.AvailableBalance)
	assertAmount(t, "0.00", balance.LifetimeEarnings)
	f.assertReplayConsistent(t, producerActor.ID)
}

func TestGetBalanceCreatesZeroBalance(t *testing.T) {
	f := newFixture(t)

	balance, err := f.ledger.GetBalance(context.Background(), otherProducer, otherProducer.ID)
	require.NoError(t, err)
	assertAmount(t, "0.00", balance.AvailableBalance)
	assertAmount(t, "0.00", balance.PendingBalance)

	_, err = f.ledger.GetBalance(context.Background(), producerActor, otherProducer.ID)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
}

func TestReplayBalance(t *testing.T) {
	matured := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	txns := []*repository.Transaction{
		{Amount: dec("500.00"), Type: repository.TransactionSale, Status: repository.TransactionCompleted, MaturedAt: &matured},
		{Amount: dec("100.00"), Type: repository.TransactionSale, Status: repository.TransactionCompleted},
		{Amount: dec("-50.00"), Type: repository.TransactionWithdrawal, Status: repository.TransactionPending},
		{Amount: dec("-20.00"), Type: repository.TransactionWithdrawal, Status: repository.TransactionCompleted},
		{Amount: dec("-30.00"), Type: repository.TransactionWithdrawal, Status: repository.TransactionRejected},
		{Amount: dec("12.34"), Type: repository.TransactionAdjustment, Status: repository.TransactionCompleted},
		{Amount: dec("-2.34"), Type: repository.TransactionAdjustment, Status: repository.TransactionCompleted},
	}

	available, pending := ReplayBalance(txns)
	assertAmount(t, "440.00", available)
	assertAmount(t, "100.00", pending)
}
