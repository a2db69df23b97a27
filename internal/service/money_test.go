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

func TestValidateMoney(t *testing.T) {
	tests := []struct {
		amount string
		ok     bool
	}{
		{"500.00", true},
		{"500", true},
		{"0.01", true},
		{"-12.50", true},
		{"999999999999.99", true},
		{"50.005", false},
		{"0.001", false},
		{"-1.999", false},
		{"1000000000000", false},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			err := validateMoney("amount", dec(tt.amount))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
		})
	}
}

func TestSubmitRejectsSubCentFee(t *testing.T) {
	f := newFixture(t)

	for _, fee := range []string{"0.001", "500.005"} {
		_, err := f.proposals.Submit(context.Background(), clientActor, &SubmitProposalRequest{
			TrackID:        "track-1",
			SyncFee:        dec(fee),
			PaymentTerms:   repository.PaymentTermsNet30,
			ExpirationDate: f.clock.Now().Add(7 * 24 * time.Hour),
		})
		assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err), fee)
	}
}

func TestCounterOfferRejectsSubCentAmount(t *testing.T) {
	f := newFixture(t)
	p := f.submit(t, "500.00")

	offer := dec("450.125")
	_, err := f.negotiation.PostMessage(context.Background(), producerActor, &PostMessageRequest{
		ProposalID:   p.ID,
		Message:      "Counter offer",
		CounterOffer: &offer,
	})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))

	msgs, err := f.negotiation.ListMessages(context.Background(), producerActor, p.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestWithdrawalRejectsSubCentAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "120.00")

	_, err := f.withdrawals.RequestWithdrawal(ctx, producerActor, &RequestWithdrawalRequest{
		Amount:          dec("50.005"),
		PaymentMethodID: "pm-1",
	})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))

	balance, err := f.ledger.GetBalance(ctx, producerActor, producerActor.ID)
	require.NoError(t, err)
	assertAmount(t, "120.00", balance.AvailableBalance)

	_, total, err := f.ledger.ListTransactions(ctx, producerActor, producerActor.ID, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	f.assertReplayConsistent(t, producerActor.ID)
}

func TestAdjustRejectsSubCentAmount(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Adjust(context.Background(), adminActor, &AdjustRequest{
		ProducerID:  producerActor.ID,
		Amount:      dec("10.001"),
		Description: "goodwill credit",
	})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
}

func TestCreditRejectsSubCentAmount(t *testing.T) {
	f := newFixture(t)
	ref := "proposal-x"

	_, err := f.ledger.Credit(context.Background(), &CreditRequest{
		ProducerID:  producerActor.ID,
		Amount:      dec("99.999"),
		Type:        repository.TransactionSale,
		ReferenceID: &ref,
	})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))

	balance, err := f.ledger.GetBalance(context.Background(), producerActor, producerActor.ID)
	require.NoError(t, err)
	assert.True(t, balance.PendingBalance.IsZero())
}
