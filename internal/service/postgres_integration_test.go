package service

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/database"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/identity"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/logger"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/repository"
)

// pgFixture runs the services against a real Postgres. Every fixture uses
// fresh actor and track ids so runs can share one database.
type pgFixture struct {
	db          *database.DB
	producer    identity.Actor
	client      identity.Actor
	admin       identity.Actor
	trackID     string
	ledger      *LedgerService
	proposals   *ProposalService
	withdrawals *WithdrawalService
}

func newPostgresFixture(t *testing.T) *pgFixture {
	t.Helper()
	dsn := os.Getenv("SYNC_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SYNC_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, database.Config{DSN: dsn, MaxConns: 16})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.Migrate(ctx)
	require.NoError(t, err)

	suffix := uuid.NewString()[:8]
	f := &pgFixture{
		db:       db,
		producer: identity.Actor{ID: "producer-" + suffix, Role: identity.RoleProducer},
		client:   identity.Actor{ID: "client-" + suffix, Role: identity.RoleClient},
		admin:    identity.Actor{ID: "admin-" + suffix, Role: identity.RoleAdmin},
		trackID:  "track-" + suffix,
	}
	_, err = db.Exec(ctx, `INSERT INTO tracks (id, producer_id, title) VALUES ($1, $2, $3)`, f.trackID, f.producer.ID, "Integration track")
	require.NoError(t, err)

	store := repository.NewPostgresStore(db)
	log := logger.Nop()
	f.ledger = NewLedgerService(store, holdPeriod, log)
	f.proposals = NewProposalService(store, f.ledger, log)
	f.withdrawals = NewWithdrawalService(store, f.ledger, dec("50.00"), log)
	return f
}

func (f *pgFixture) submit(t *testing.T, fee string) *repository.Proposal {
	t.Helper()
	p, err := f.proposals.Submit(context.Background(), f.client, &SubmitProposalRequest{
		TrackID:        f.trackID,
		SyncFee:        dec(fee),
		PaymentTerms:   repository.PaymentTermsImmediate,
		ExpirationDate: time.Now().UTC().Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return p
}

func (f *pgFixture) assertReplayConsistent(t *testing.T) {
	t.Helper()
	rec, err := f.ledger.Reconcile(context.Background(), f.admin, f.producer.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent(), "stored %s/%s, replayed %s/%s",
		rec.Balance.AvailableBalance, rec.Balance.PendingBalance, rec.ReplayedAvailable, rec.ReplayedPending)
}

func TestPostgresSettlementScenario(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	p := f.submit(t, "500.00")

	_, err := f.proposals.ProducerDecide(ctx, f.producer, p.ID, repository.DecisionAccept)
	require.NoError(t, err)
	_, err = f.proposals.ClientDecide(ctx, f.client, p.ID, repository.DecisionAccept)
	require.NoError(t, err)

	pending, err := f.proposals.GetPendingPayment(ctx, p.ID)
	require.NoError(t, err)
	assertAmount(t, "500.00", pending.Amount)

	p, err = f.proposals.RecordPayment(ctx, p.ID, "payments")
	require.NoError(t, err)
	assert.Equal(t, repository.PhaseSettled, p.State.Phase())

	_, err = f.proposals.RecordPayment(ctx, p.ID, "payments")
	assert.Equal(t, errors.ErrCodeInvalidTransition, errors.CodeOf(err))

	balance, err := f.ledger.GetBalance(ctx, f.producer, f.producer.ID)
	require.NoError(t, err)
	assertAmount(t, "500.00", balance.PendingBalance)
	assertAmount(t, "0.00", balance.AvailableBalance)

	txns, total, err := f.ledger.ListTransactions(ctx, f.producer, f.producer.ID, 10, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, repository.TransactionSale, txns[0].Type)
	assert.Equal(t, repository.TransactionCompleted, txns[0].Status)
	assertAmount(t, "500.00", txns[0].Amount)

	history, err := f.proposals.GetHistory(ctx, f.admin, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, repository.AxisProducer, history[0].Axis)
	assert.Equal(t, repository.AxisPayment, history[2].Axis)

	n, err := f.ledger.MatureFunds(ctx, time.Now().UTC().Add(holdPeriod+time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	balance, err = f.ledger.GetBalance(ctx, f.producer, f.producer.ID)
	require.NoError(t, err)
	assertAmount(t, "500.00", balance.AvailableBalance)
	assertAmount(t, "0.00", balance.PendingBalance)
	f.assertReplayConsistent(t)
}

func TestPostgresWithdrawalRoundTrip(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Adjust(ctx, f.admin, &AdjustRequest{ProducerID: f.producer.ID, Amount: dec("120.00"), Description: "Opening balance"})
	require.NoError(t, err)

	w, err := f.withdrawals.RequestWithdrawal(ctx, f.producer, &RequestWithdrawalRequest{Amount: dec("50.00"), PaymentMethodID: "pm-1"})
	require.NoError(t, err)

	balance, err := f.ledger.GetBalance(ctx, f.producer, f.producer.ID)
	require.NoError(t, err)
	assertAmount(t, "70.00", balance.AvailableBalance)

	_, err = f.withdrawals.RequestWithdrawal(ctx, f.producer, &RequestWithdrawalRequest{Amount: dec("40.00"), PaymentMethodID: "pm-1"})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))

	w, err = f.withdrawals.Reject(ctx, f.admin, w.ID, "bank details do not match")
	require.NoError(t, err)
	assert.Equal(t, repository.WithdrawalRejected, w.Status)

	balance, err = f.ledger.GetBalance(ctx, f.producer, f.producer.ID)
	require.NoError(t, err)
	assert.True(t, balance.AvailableBalance.Equal(dec("120.00")), balance.AvailableBalance.String())

	status := repository.WithdrawalRejected
	items, total, err := f.withdrawals.ListWithdrawals(ctx, f.producer, repository.WithdrawalFilter{Status: &status})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, w.ID, items[0].ID)
	f.assertReplayConsistent(t)
}

func TestPostgresConcurrentProducerDecisions(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	p := f.submit(t, "300.00")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		decision := repository.DecisionAccept
		if i%2 == 1 {
			decision = repository.DecisionReject
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.proposals.ProducerDecide(ctx, f.producer, p.ID, decision)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, errors.ErrCodeInvalidTransition) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)

	history, err := f.proposals.GetHistory(ctx, f.admin, p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPostgresConcurrentWithdrawals(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Adjust(ctx, f.admin, &AdjustRequest{ProducerID: f.producer.ID, Amount: dec("120.00"), Description: "Opening balance"})
	require.NoError(t, err)

	const workers = 6
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.withdrawals.RequestWithdrawal(ctx, f.producer, &RequestWithdrawalRequest{Amount: dec("50.00"), PaymentMethodID: "pm-1"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, errors.ErrCodeInsufficientFunds) {
				insufficient++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, successes)
	assert.Equal(t, workers-2, insufficient)

	balance, err := f.ledger.GetBalance(ctx, f.producer, f.producer.ID)
	require.NoError(t, err)
	assertAmount(t, "20.00", balance.AvailableBalance)
	f.assertReplayConsistent(t)
}
