package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/events"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/identity"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/logger"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/repository"
)

// MockNotifier is a mock implementation of the Notifier interface
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) ProposalSubmitted(ctx context.Context, evt events.ProposalSubmitted) {
	m.Called(ctx, evt)
}

func (m *MockNotifier) ProposalDecided(ctx context.Context, evt events.ProposalDecided) {
	m.Called(ctx, evt)
}

func (m *MockNotifier) ReadyForPayment(ctx context.Context, evt events.ReadyForPayment) {
	m.Called(ctx, evt)
}

func (m *MockNotifier) WithdrawalDecided(ctx context.Context, evt events.WithdrawalDecided) {
	m.Called(ctx, evt)
}

func (m *MockNotifier) WithdrawalApproved(ctx context.Context, evt events.WithdrawalApproved) {
	m.Called(ctx, evt)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	clientActor   = identity.Actor{ID: "client-1", Role: identity.RoleClient}
	producerActor = identity.Actor{ID: "producer-1", Role: identity.RoleProducer}
	otherProducer = identity.Actor{ID: "producer-2", Role: identity.RoleProducer}
	adminActor    = identity.Actor{ID: "admin-1", Role: identity.RoleAdmin}
)

const holdPeriod = 14 * 24 * time.Hour

type fixture struct {
	store       *repository.MemoryStore
	clock       *testClock
	notifier    *MockNotifier
	ledger      *LedgerService
	proposals   *ProposalService
	negotiation *NegotiationService
	withdrawals *WithdrawalService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	store.AddTrack("track-1", producerActor.ID)
	store.AddTrack("track-2", otherProducer.ID)

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	notifier := &MockNotifier{}
	for _, method := range []string{"ProposalSubmitted", "ProposalDecided", "ReadyForPayment", "WithdrawalDecided", "WithdrawalApproved"} {
		notifier.On(method, mock.Anything, mock.Anything).Maybe()
	}

	opts := []Option{WithClock(clock.Now), WithNotifier(notifier)}
	log := logger.Nop()
	ledger := NewLedgerService(store, holdPeriod, log, opts...)

	return &fixture{
		store:       store,
		clock:       clock,
		notifier:    notifier,
		ledger:      ledger,
		proposals:   NewProposalService(store, ledger, log, opts...),
		negotiation: NewNegotiationService(store, log, opts...),
		withdrawals: NewWithdrawalService(store, ledger, dec("50.00"), log, opts...),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2))
}

func (f *fixture) submit(t *testing.T, fee string) *repository.Proposal {
	t.Helper()
	p, err := f.proposals.Submit(context.Background(), clientActor, &SubmitProposalRequest{
		TrackID:        "track-1",
		SyncFee:        dec(fee),
		PaymentTerms:   repository.PaymentTermsNet30,
		ExpirationDate: f.clock.Now().Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return p
}

// settle drives a fresh proposal all the way to settled.
func (f *fixture) settle(t *testing.T, fee string) *repository.Proposal {
	t.Helper()
	ctx := context.Background()
	p := f.submit(t, fee)
	_, err := f.proposals.ProducerDecide(ctx, producerActor, p.ID, repository.DecisionAccept)
	require.NoError(t, err)
	_, err = f.proposals.ClientDecide(ctx, clientActor, p.ID, repository.DecisionAccept)
	require.NoError(t, err)
	p, err = f.proposals.RecordPayment(ctx, p.ID, "payments")
	require.NoError(t, err)
	return p
}

// fund gives the producer an available balance through a matured sale.
func (f *fixture) fund(t *testing.T, amount string) {
	t.Helper()
	f.settle(t, amount)
	f.clock.Advance(holdPeriod)
	n, err := f.ledger.MatureFunds(context.Background(), f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func (f *fixture) assertReplayConsistent(t *testing.T, producerID string) {
	t.Helper()
	rec, err := f.ledger.Reconcile(context.Background(), adminActor, producerID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent(), "stored %s/%s, replayed %s/%s",
		rec.Balance.AvailableBalance, rec.Balance.PendingBalance, rec.ReplayedAvailable, rec.ReplayedPending)
}
